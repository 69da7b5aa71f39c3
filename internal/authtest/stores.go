// Package authtest provides in-memory implementations of the auth stores and
// identity provider for tests.
package authtest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
)

// Memory holds blacklist, watermark, ledger and session state.
type Memory struct {
	clock clock.Clock

	mu          sync.Mutex
	revoked     map[string]models.RevokedToken
	generations map[string]int
	records     map[string]models.RotationRecord
	sessions    map[string]models.Session
	failure     error

	txMu    sync.Mutex
	touches atomic.Int64
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:       clk,
		revoked:     make(map[string]models.RevokedToken),
		generations: make(map[string]int),
		records:     make(map[string]models.RotationRecord),
		sessions:    make(map[string]models.Session),
	}
}

// Fail makes every subsequent store call fail with err wrapped as an
// upstream failure. Fail(nil) heals the stores.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Memory) check() error {
	if m.failure != nil {
		return fmt.Errorf("memory store: %w: %v", services.ErrUpstreamUnavailable, m.failure)
	}
	return nil
}

func (m *Memory) Stores() services.AuthStores {
	return services.AuthStores{
		Revocations: &Revocations{m: m},
		Rotations:   &Rotations{m: m},
		Sessions:    &Sessions{m: m},
	}
}

// Tx returns a TxRunner that rolls the memory state back when fn fails.
func (m *Memory) Tx() services.TxRunner {
	return &memoryTx{m: m}
}

func (m *Memory) Touches() int64 {
	return m.touches.Load()
}

func (m *Memory) RevokedEntry(tokenID string) (models.RevokedToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.revoked[tokenID]
	return e, ok
}

func (m *Memory) Record(tokenID string) (models.RotationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[tokenID]
	return r, ok
}

func (m *Memory) Session(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

type snapshot struct {
	revoked     map[string]models.RevokedToken
	generations map[string]int
	records     map[string]models.RotationRecord
	sessions    map[string]models.Session
}

func (m *Memory) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot{
		revoked:     maps.Clone(m.revoked),
		generations: maps.Clone(m.generations),
		records:     maps.Clone(m.records),
		sessions:    maps.Clone(m.sessions),
	}
}

func (m *Memory) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = s.revoked
	m.generations = s.generations
	m.records = s.records
	m.sessions = s.sessions
}

type memoryTx struct {
	m *Memory
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(stores services.AuthStores) error) error {
	t.m.txMu.Lock()
	defer t.m.txMu.Unlock()

	snap := t.m.snapshot()
	if err := fn(t.m.Stores()); err != nil {
		t.m.restore(snap)
		return err
	}
	return nil
}

type Revocations struct{ m *Memory }

func (r *Revocations) Add(_ context.Context, entry models.RevokedToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return err
	}
	if _, ok := r.m.revoked[entry.TokenID]; !ok {
		r.m.revoked[entry.TokenID] = entry
	}
	return nil
}

func (r *Revocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return false, err
	}
	_, ok := r.m.revoked[tokenID]
	return ok, nil
}

func (r *Revocations) RevokeAllForSubject(_ context.Context, subject, reason string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return 0, err
	}

	now := r.m.clock.Now()
	r.m.generations[subject]++
	var n int64
	for id, rec := range r.m.records {
		if rec.UserID != subject || rec.ChildID != nil || !rec.ExpiresAt.After(now) {
			continue
		}
		if _, ok := r.m.revoked[id]; ok {
			continue
		}
		r.m.revoked[id] = models.RevokedToken{
			TokenID:   id,
			UserID:    subject,
			Kind:      string(services.TokenKindRefresh),
			Reason:    reason,
			ExpiresAt: rec.ExpiresAt,
			CreatedAt: now,
		}
		n++
	}
	return n, nil
}

func (r *Revocations) Generation(_ context.Context, subject string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return 0, err
	}
	return r.m.generations[subject], nil
}

func (r *Revocations) Prune(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return 0, err
	}
	now := r.m.clock.Now()
	var n int64
	for id, e := range r.m.revoked {
		if !e.ExpiresAt.After(now) {
			delete(r.m.revoked, id)
			n++
		}
	}
	return n, nil
}

type Rotations struct{ m *Memory }

func (r *Rotations) RecordIssued(_ context.Context, rec models.RotationRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return err
	}
	if _, ok := r.m.records[rec.TokenID]; ok {
		return fmt.Errorf("memory store: duplicate rotation record %s", rec.TokenID)
	}
	r.m.records[rec.TokenID] = rec
	return nil
}

func (r *Rotations) RecordRotation(_ context.Context, rot services.Rotation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return err
	}

	child := rot.ChildID
	rec, ok := r.m.records[rot.TokenID]
	if ok && rec.ChildID != nil {
		return services.ErrAlreadyRotated
	}
	if !ok {
		rec = models.RotationRecord{
			TokenID:   rot.TokenID,
			UserID:    rot.Subject,
			FamilyID:  rot.FamilyID,
			ParentID:  rot.ParentID,
			ExpiresAt: rot.ExpiresAt,
		}
	}
	rec.ChildID = &child
	r.m.records[rot.TokenID] = rec

	parent := rot.TokenID
	r.m.records[rot.ChildID] = models.RotationRecord{
		TokenID:   rot.ChildID,
		UserID:    rot.Subject,
		FamilyID:  rot.FamilyID,
		ParentID:  &parent,
		ExpiresAt: rot.ChildExpiresAt,
		CreatedAt: r.m.clock.Now(),
	}
	return nil
}

func (r *Rotations) WasUsed(_ context.Context, tokenID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return false, err
	}
	rec, ok := r.m.records[tokenID]
	return ok && rec.ChildID != nil, nil
}

func (r *Rotations) FamilyOf(_ context.Context, tokenID string) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return "", err
	}
	return r.m.records[tokenID].FamilyID, nil
}

func (r *Rotations) Prune(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.check(); err != nil {
		return 0, err
	}
	now := r.m.clock.Now()
	var n int64
	for id, rec := range r.m.records {
		if !rec.ExpiresAt.After(now) {
			delete(r.m.records, id)
			n++
		}
	}
	return n, nil
}

type Sessions struct{ m *Memory }

func (s *Sessions) Create(_ context.Context, sess *models.Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return err
	}
	now := s.m.clock.Now()
	sess.CreatedAt = now
	sess.LastActiveAt = now
	s.m.sessions[sess.ID] = *sess
	return nil
}

func (s *Sessions) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return nil, err
	}
	sess, ok := s.m.sessions[sessionID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *Sessions) UpdateCurrentToken(_ context.Context, sessionID, previous, next string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return err
	}
	sess, ok := s.m.sessions[sessionID]
	if !ok || sess.CurrentTokenID != previous {
		return services.ErrSessionNotFound
	}
	sess.CurrentTokenID = next
	sess.LastActiveAt = s.m.clock.Now()
	s.m.sessions[sessionID] = sess
	return nil
}

func (s *Sessions) ListForSubject(_ context.Context, subject string) ([]models.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return nil, err
	}
	var out []models.Session
	for _, sess := range s.m.sessions {
		if sess.UserID == subject {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (s *Sessions) End(_ context.Context, sessionID string) (*models.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return nil, err
	}
	sess, ok := s.m.sessions[sessionID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	delete(s.m.sessions, sessionID)
	return &sess, nil
}

func (s *Sessions) RevokeAllForSubject(_ context.Context, subject string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.m.sessions {
		if sess.UserID == subject {
			delete(s.m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Sessions) Touch(_ context.Context, sessionID string) error {
	s.m.touches.Add(1)
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.check(); err != nil {
		return err
	}
	if sess, ok := s.m.sessions[sessionID]; ok {
		sess.LastActiveAt = s.m.clock.Now()
		s.m.sessions[sessionID] = sess
	}
	return nil
}
