// Package auth defines the scoped credential store boundary.
//
// The network layer only ever reads a bearer token before dispatch and
// removes it after an authentication fault; everything else (obtaining a
// token, re-login) belongs to the auth subsystem above this layer.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned when the store holds no credential. Dispatch
// proceeds unauthenticated in that case.
var ErrNoToken = errors.New("no token stored")

// TokenStore is a scoped key/value store for a single access token.
type TokenStore interface {
	// Token returns the stored access token, or ErrNoToken.
	Token(ctx context.Context) (string, error)

	// Save stores a new access token, replacing any previous one.
	Save(ctx context.Context, token string) error

	// Remove deletes the stored token. Removing an absent token is not
	// an error.
	Remove(ctx context.Context) error
}

// MemoryStore is an in-process TokenStore, used by tests and short-lived
// commands.
type MemoryStore struct {
	mu    sync.Mutex
	token string
	set   bool

	removeCount int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWithToken creates a store pre-loaded with token.
func NewMemoryStoreWithToken(token string) *MemoryStore {
	return &MemoryStore{token: token, set: true}
}

func (s *MemoryStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.set = true
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.set = false
	s.removeCount++
	return nil
}

// RemoveCount reports how many times Remove was called. Test hook.
func (s *MemoryStore) RemoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCount
}
