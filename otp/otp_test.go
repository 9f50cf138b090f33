package otp

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	records map[Kind][]*Record

	invalidateCalls int
	createCalls     int
	findCalls       int
	markUsedCalls   int

	invalidateErr error
	createErr     error
	markUsedErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[Kind][]*Record)}
}

func (s *fakeStore) InvalidateUnused(ctx context.Context, kind Kind, userID string, at time.Time) error {
	s.invalidateCalls++
	if s.invalidateErr != nil {
		return s.invalidateErr
	}
	for _, rec := range s.records[kind] {
		if rec.UserID == userID && rec.UsedAt == nil {
			used := at
			rec.UsedAt = &used
		}
	}
	return nil
}

func (s *fakeStore) Create(ctx context.Context, kind Kind, rec *Record) error {
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	clone := *rec
	s.records[kind] = append(s.records[kind], &clone)
	return nil
}

func (s *fakeStore) FindActive(ctx context.Context, kind Kind, code string, now time.Time) (*Record, error) {
	s.findCalls++
	for _, rec := range s.records[kind] {
		if rec.Code == code && rec.UsedAt == nil && rec.ExpiresAt.After(now) {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) MarkUsed(ctx context.Context, kind Kind, id string, at time.Time) error {
	s.markUsedCalls++
	if s.markUsedErr != nil {
		return s.markUsedErr
	}
	for _, rec := range s.records[kind] {
		if rec.ID == id {
			if rec.UsedAt != nil {
				return ErrCodeInvalid
			}
			used := at
			rec.UsedAt = &used
			return nil
		}
	}
	return ErrCodeInvalid
}

func (s *fakeStore) live(kind Kind, userID string) []*Record {
	var out []*Record
	for _, rec := range s.records[kind] {
		if rec.UserID == userID && rec.UsedAt == nil {
			out = append(out, rec)
		}
	}
	return out
}

func newTestEngine(t *testing.T, store Store, cfg Config) *Engine {
	t.Helper()

	e, err := NewEngine(store, cfg)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	return e
}

func TestIssueAndConsume(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{})

	code, err := engine.Issue(ctx, KindVerification, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	userID, err := engine.Consume(ctx, KindVerification, code)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("expected owner u1, got %q", userID)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{})

	code, err := engine.Issue(ctx, KindVerification, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := engine.Consume(ctx, KindVerification, code); err != nil {
		t.Fatalf("first Consume error: %v", err)
	}
	if _, err := engine.Consume(ctx, KindVerification, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected second Consume to fail with ErrCodeInvalid, got %v", err)
	}
}

func TestIssueInvalidatesPriorCodes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{})

	first, err := engine.Issue(ctx, KindVerification, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	second, err := engine.Issue(ctx, KindVerification, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if live := store.live(KindVerification, "u1"); len(live) != 1 {
		t.Fatalf("expected exactly one live code after reissue, got %d", len(live))
	}
	if first != second {
		if _, err := engine.Consume(ctx, KindVerification, first); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected superseded code to fail with ErrCodeInvalid, got %v", err)
		}
	}
	if _, err := engine.Consume(ctx, KindVerification, second); err != nil {
		t.Fatalf("expected latest code to consume: %v", err)
	}
}

func TestConsumeExpiredCode(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{
		TTL:   10 * time.Minute,
		Clock: func() time.Time { return current },
	})

	code, err := engine.Issue(ctx, KindPasswordReset, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	current = base.Add(11 * time.Minute)
	if _, err := engine.Consume(ctx, KindPasswordReset, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected expired code to fail with ErrCodeInvalid, got %v", err)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{})

	code, err := engine.Issue(ctx, KindVerification, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := engine.Consume(ctx, KindPasswordReset, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected verification code to be invalid as a reset code, got %v", err)
	}
	if _, err := engine.Consume(ctx, KindVerification, code); err != nil {
		t.Fatalf("expected code to remain live for its own kind: %v", err)
	}
}

func TestConsumeMalformedCode(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{})

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if _, err := engine.Consume(ctx, KindVerification, code); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected ErrCodeInvalid for %q, got %v", code, err)
		}
	}
	if store.findCalls != 0 {
		t.Fatalf("malformed codes must be rejected before the store is consulted, got %d lookups", store.findCalls)
	}
}

func TestOwnerGateRejection(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{
		Gate: func(ctx context.Context, kind Kind, userID string) error {
			if userID == "blocked" {
				return errors.New("not eligible")
			}
			return nil
		},
	})

	code, err := engine.Issue(ctx, KindPasswordReset, "blocked")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := engine.Consume(ctx, KindPasswordReset, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected gated consume to fail with ErrCodeInvalid, got %v", err)
	}
	if store.markUsedCalls != 0 {
		t.Fatal("gated code must not be marked used")
	}
}

func TestConsumeInfrastructureFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(t, store, Config{})

	code, err := engine.Issue(ctx, KindVerification, "u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	store.markUsedErr = errors.New("connection refused")
	_, err = engine.Consume(ctx, KindVerification, code)
	if err == nil || errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected infrastructure failure to surface, got %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(nil, Config{}); err == nil {
		t.Fatal("expected nil store to be rejected")
	}
	if _, err := NewEngine(newFakeStore(), Config{Digits: 3}); err == nil {
		t.Fatal("expected too-short code length to be rejected")
	}
	if _, err := NewEngine(newFakeStore(), Config{Digits: 11}); err == nil {
		t.Fatal("expected too-long code length to be rejected")
	}
}
