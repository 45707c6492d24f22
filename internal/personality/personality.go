package personality

import (
	"fmt"
	"strconv"
)

const (
	ToneNeutral = "neutral"
	ToneCasual  = "casual"
	ToneFormal  = "formal"
	ToneConcise = "concise"
)

const namespace = "personality"

// Default is applied when no tone was ever stored for a user.
const Default = ToneNeutral

var instructions = map[string]string{
	ToneNeutral: "Answer helpfully in a balanced, friendly tone.",
	ToneCasual:  "Answer in a relaxed, conversational tone. Keep it light.",
	ToneFormal:  "Answer in a precise, professional tone. No slang.",
	ToneConcise: "Answer as briefly as possible. Prefer short sentences and lists.",
}

type Store interface {
	Get(namespace, key string, out interface{}) (bool, error)
	Set(namespace, key string, value interface{}) error
	Delete(namespace, key string) error
}

// Service persists one tone per user and maps it to a system
// instruction for the LLM context.
type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(userID int64) string {
	var tone string
	ok, err := s.store.Get(namespace, key(userID), &tone)
	if err != nil || !ok {
		return Default
	}
	if _, known := instructions[tone]; !known {
		return Default
	}
	return tone
}

// Set rejects unknown tones and leaves the stored value unchanged.
func (s *Service) Set(userID int64, tone string) error {
	if _, known := instructions[tone]; !known {
		return fmt.Errorf("unknown tone %q", tone)
	}
	return s.store.Set(namespace, key(userID), tone)
}

func (s *Service) Reset(userID int64) error {
	return s.store.Delete(namespace, key(userID))
}

// Instruction returns the system instruction for the user's tone.
func (s *Service) Instruction(userID int64) string {
	return instructions[s.Get(userID)]
}

// Tones lists the accepted tone values.
func Tones() []string {
	return []string{ToneNeutral, ToneCasual, ToneFormal, ToneConcise}
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
