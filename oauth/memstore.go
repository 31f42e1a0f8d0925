package oauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/bibliome/atproto-oauth/syntax"
)

// Simple in-memory implementation of [ClientAuthStore], for use in
// development and demos.
//
// This is not appropriate for even casual real-world use: all users will be
// logged-out every time the process is restarted.
type MemStore struct {
	requests map[string]AuthRequestData
	sessions map[syntax.DID]SessionData

	lk sync.Mutex
}

var _ ClientAuthStore = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[string]AuthRequestData),
		sessions: make(map[syntax.DID]SessionData),
	}
}

func (m *MemStore) GetSession(ctx context.Context, did syntax.DID) (*SessionData, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	sess, ok := m.sessions[did]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", did)
	}
	return &sess, nil
}

func (m *MemStore) SaveSession(ctx context.Context, sess SessionData) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	m.sessions[sess.DID] = sess
	return nil
}

func (m *MemStore) DeleteSession(ctx context.Context, did syntax.DID) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	delete(m.sessions, did)
	return nil
}

func (m *MemStore) GetAuthRequestInfo(ctx context.Context, state string) (*AuthRequestData, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	req, ok := m.requests[state]
	if !ok {
		return nil, fmt.Errorf("request info not found: %s", state)
	}
	return &req, nil
}

func (m *MemStore) SaveAuthRequestInfo(ctx context.Context, info AuthRequestData) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	m.requests[info.State] = info
	return nil
}

func (m *MemStore) DeleteAuthRequestInfo(ctx context.Context, state string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	delete(m.requests, state)
	return nil
}
