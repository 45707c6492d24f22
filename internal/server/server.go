package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"ai-relay/internal/analytics"
	"ai-relay/internal/relay"
	"ai-relay/internal/store"
)

// relayCore is what the dispatcher needs from the coordinator.
type relayCore interface {
	HandleInboundEvent(ctx context.Context, ev relay.Event) relay.Outcome
	Answer(ctx context.Context, userID int64, message string) (string, error)
}

// webhookManager covers the platform registration calls.
type webhookManager interface {
	SetWebhook(domain string) (string, error)
	WebhookInfo() (tgbotapi.WebhookInfo, error)
}

// Server routes inbound HTTP to the relay and the management APIs.
type Server struct {
	coord        relayCore
	hooks        webhookManager
	usage        *store.UsageLog
	publicDomain string
	server       *http.Server
	startTime    time.Time
	log          *logrus.Logger
}

func New(addr string, coord relayCore, hooks webhookManager, usage *store.UsageLog, publicDomain string, log *logrus.Logger) *Server {
	s := &Server{
		coord:        coord,
		hooks:        hooks,
		usage:        usage,
		publicDomain: publicDomain,
		startTime:    time.Now(),
		log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/webhook/setup", s.handleWebhookSetup)
	mux.HandleFunc("/webhook/status", s.handleWebhookStatus)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/user-stats", s.handleUserStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleNotFound)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWebhook always acknowledges with 200 so the platform never
// redelivers; event processing runs detached from the request.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.log.WithError(err).Warn("undecodable webhook body")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}
	ev, ok := relay.FromUpdate(update)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	go func() {
		outcome := s.coord.HandleInboundEvent(context.Background(), ev)
		s.log.WithFields(logrus.Fields{
			"chat_id": ev.ChatID,
			"user_id": ev.UserID,
			"outcome": string(outcome),
		}).Info("webhook event handled")
	}()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhookSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	if s.publicDomain == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "PUBLIC_DOMAIN is not configured",
		})
		return
	}
	desc, err := s.hooks.SetWebhook(s.publicDomain)
	if err != nil {
		s.log.WithError(err).Error("webhook registration failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":      "success",
		"webhook_url": s.publicDomain + "/webhook",
		"description": desc,
	})
}

func (s *Server) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	info, err := s.hooks.WebhookInfo()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"info":   info,
	})
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Message == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "user_id and message are required",
		})
		return
	}
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "user_id must be numeric",
		})
		return
	}
	resp, err := s.coord.Answer(r.Context(), userID, req.Message)
	if err != nil {
		s.log.WithError(err).Error("chat api request failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  "generation failed",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "success",
		"response": resp,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	events, err := s.usage.Load()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  "stats unavailable",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stats":     analytics.Aggregate(events),
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "user_id is required",
		})
		return
	}
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "user_id must be numeric",
		})
		return
	}
	events, err := s.usage.Load()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  "stats unavailable",
		})
		return
	}
	stats := analytics.Aggregate(events).UserStats[userID]
	stats.UserID = userID
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stats":     stats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"status": "error",
			"error":  "unknown endpoint",
			"endpoints": []string{
				"POST /webhook",
				"GET /webhook/setup",
				"GET /webhook/status",
				"POST /api/chat",
				"GET /api/stats",
				"POST /api/user-stats",
				"GET /health",
			},
		})
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"status": "error",
		"error":  "method not allowed",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Debug("response encode failed")
	}
}
