package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	results  map[string][]AssessmentResult
	consents map[string]ConsentRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]User),
		results:  make(map[string][]AssessmentResult),
		consents: make(map[string]ConsentRecord),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *InMemoryStore) CreateUser(_ context.Context, user User) error {
	key := normalizeEmail(user.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; ok {
		return ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = key
	s.users[key] = user
	return nil
}

func (s *InMemoryStore) GetUser(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *InMemoryStore) UpdateUser(_ context.Context, user User) error {
	key := normalizeEmail(user.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; !ok {
		return ErrUserNotFound
	}
	user.Email = key
	s.users[key] = user
	return nil
}

func (s *InMemoryStore) SaveResult(_ context.Context, result AssessmentResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	key := normalizeEmail(result.UserEmail)
	result.UserEmail = key
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = append(s.results[key], result)
	return nil
}

func (s *InMemoryStore) ResultsByUser(_ context.Context, email string) ([]AssessmentResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.results[normalizeEmail(email)]
	out := make([]AssessmentResult, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) SaveConsent(_ context.Context, record ConsentRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	key := normalizeEmail(record.UserEmail)
	record.UserEmail = key
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[key] = record
	return nil
}

func (s *InMemoryStore) GetConsent(_ context.Context, email string) (ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.consents[normalizeEmail(email)]
	if !ok {
		return ConsentRecord{}, ErrUserNotFound
	}
	return record, nil
}

func (s *InMemoryStore) DeleteUserData(_ context.Context, email string) error {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, key)
	delete(s.results, key)
	delete(s.consents, key)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
