package auth

import (
	"fmt"
	"sync"
)

// Service gates bot usage on an allowlist. An empty allowlist admits
// everyone, so deployments that do not care about access control need
// no configuration.
type Service struct {
	mu      sync.RWMutex
	repo    Repository
	allowed map[int64]bool
}

type Repository interface {
	LoadAll() ([]int64, error)
	Save(ids []int64) error
}

func New(repo Repository, initial []int64) (*Service, error) {
	s := &Service{repo: repo, allowed: make(map[int64]bool)}
	if repo != nil {
		ids, err := repo.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load allowlist: %w", err)
		}
		for _, id := range ids {
			s.allowed[id] = true
		}
	}
	for _, id := range initial {
		s.allowed[id] = true
	}
	return s, nil
}

func (s *Service) IsAllowed(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[userID]
}

func (s *Service) Add(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[userID] = true
	return s.persistUnlocked()
}

func (s *Service) Remove(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowed, userID)
	return s.persistUnlocked()
}

func (s *Service) List() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.allowed))
	for id := range s.allowed {
		out = append(out, id)
	}
	return out
}

func (s *Service) persistUnlocked() error {
	if s.repo == nil {
		return nil
	}
	ids := make([]int64, 0, len(s.allowed))
	for id := range s.allowed {
		ids = append(ids, id)
	}
	return s.repo.Save(ids)
}
