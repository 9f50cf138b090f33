package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	insertCalls        int
	updateCalls        int
	revokeAllCalls     int
	revokeCalls        int
	revokeForUserCalls int

	getErr    error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*Session)}
}

func (s *fakeStore) Insert(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *fakeStore) UpdateRotated(ctx context.Context, sess *Session, priorHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	stored, ok := s.sessions[sess.ID]
	if !ok || stored.CurrentTokenHash != priorHash {
		return ErrRotationConflict
	}
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *fakeStore) ListActive(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active(now) {
			clone := *sess
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakeStore) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeCalls++
	if sess, ok := s.sessions[sessionID]; ok && sess.RevokedAt == nil {
		revoked := at
		sess.RevokedAt = &revoked
	}
	return nil
}

func (s *fakeStore) RevokeForUser(ctx context.Context, userID, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeForUserCalls++
	if sess, ok := s.sessions[sessionID]; ok && sess.UserID == userID && sess.RevokedAt == nil {
		revoked := at
		sess.RevokedAt = &revoked
	}
	return nil
}

func (s *fakeStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeAllCalls++
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			revoked := at
			sess.RevokedAt = &revoked
		}
	}
	return nil
}

func (s *fakeStore) snapshot(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	clone := *sess
	return &clone
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, store Store, clock *testClock) *Manager {
	t.Helper()

	m, err := NewManager(store, Config{
		BcryptCost:       10,
		ReuseGraceWindow: 10 * time.Second,
		Clock:            clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m
}

func mustCreate(t *testing.T, m *Manager, store *fakeStore, clock *testClock, sessionID, userID, token string) *Session {
	t.Helper()

	s, err := m.Create(context.Background(), sessionID, userID, token, Metadata{IPAddress: "10.0.0.1", UserAgent: "cli"}, clock.Now().Add(720*time.Hour))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return s
}

func TestCreateAndValidate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	s, err := m.ValidateForRefresh(ctx, "s1", "u1", "token-a")
	if err != nil {
		t.Fatalf("ValidateForRefresh error: %v", err)
	}
	if s.ID != "s1" || s.UserID != "u1" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	if _, err := m.ValidateForRefresh(ctx, "s1", "u1", "never-issued"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if store.revokeAllCalls != 0 {
		t.Fatal("an unknown token must not trigger mass revocation")
	}
}

func TestValidateWrongOwner(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	if _, err := m.ValidateForRefresh(ctx, "s1", "u2", "token-a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for foreign owner, got %v", err)
	}
}

func TestRotateKeepsSessionID(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	clock.Advance(time.Minute)
	s, err := m.ValidateAndRotate(ctx, "s1", "u1", "token-a", "token-b", Metadata{IPAddress: "10.0.0.2"}, clock.Now().Add(720*time.Hour))
	if err != nil {
		t.Fatalf("ValidateAndRotate error: %v", err)
	}
	if s.ID != "s1" {
		t.Fatalf("rotation must keep the session id, got %q", s.ID)
	}
	if s.IPAddress != "10.0.0.2" {
		t.Fatalf("rotation must refresh metadata, got %q", s.IPAddress)
	}

	if _, err := m.ValidateForRefresh(ctx, "s1", "u1", "token-b"); err != nil {
		t.Fatalf("new token must validate: %v", err)
	}
}

func TestReplayOutsideGraceWindowRevokesEverything(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")
	mustCreate(t, m, store, clock, "s2", "u1", "other-device")

	if _, err := m.ValidateAndRotate(ctx, "s1", "u1", "token-a", "token-b", Metadata{}, clock.Now().Add(720*time.Hour)); err != nil {
		t.Fatalf("ValidateAndRotate error: %v", err)
	}

	clock.Advance(11 * time.Second)
	_, err := m.ValidateForRefresh(ctx, "s1", "u1", "token-a")
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected, got %v", err)
	}

	if s := store.snapshot("s1"); s.RevokedAt == nil {
		t.Fatal("expected replayed session to be revoked")
	}
	if s := store.snapshot("s2"); s.RevokedAt == nil {
		t.Fatal("expected every session of the user to be revoked")
	}
	if store.revokeAllCalls != 1 {
		t.Fatalf("expected exactly one mass revocation, got %d", store.revokeAllCalls)
	}
}

func TestReplayInsideGraceWindowIsNotTheft(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	if _, err := m.ValidateAndRotate(ctx, "s1", "u1", "token-a", "token-b", Metadata{}, clock.Now().Add(720*time.Hour)); err != nil {
		t.Fatalf("ValidateAndRotate error: %v", err)
	}

	clock.Advance(5 * time.Second)
	_, err := m.ValidateForRefresh(ctx, "s1", "u1", "token-a")
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken inside the grace window, got %v", err)
	}
	if store.revokeAllCalls != 0 {
		t.Fatal("a lost race must not trigger mass revocation")
	}
	if s := store.snapshot("s1"); s.RevokedAt != nil {
		t.Fatal("session must stay alive after a lost race")
	}
}

func TestValidateRevokedSession(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")
	if err := m.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	if _, err := m.ValidateForRefresh(ctx, "s1", "u1", "token-a"); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestExpiredSessionIsLazilyRevoked(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	clock.Advance(721 * time.Hour)
	if _, err := m.AssertActive(ctx, "s1", "u1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if s := store.snapshot("s1"); s.RevokedAt == nil {
		t.Fatal("expected expired session to be revoked on detection")
	}

	if _, err := m.AssertActive(ctx, "s1", "u1"); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked on second check, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	if err := m.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("first Revoke error: %v", err)
	}
	revokedAt := *store.snapshot("s1").RevokedAt

	clock.Advance(time.Hour)
	if err := m.Revoke(ctx, "s1"); err != nil {
		t.Fatalf("second Revoke error: %v", err)
	}
	if !store.snapshot("s1").RevokedAt.Equal(revokedAt) {
		t.Fatal("second revoke must not move the revocation timestamp")
	}
}

func TestRevokeForUserChecksOwnership(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	if err := m.RevokeForUser(ctx, "u2", "s1"); err != nil {
		t.Fatalf("RevokeForUser error: %v", err)
	}
	if store.snapshot("s1").RevokedAt != nil {
		t.Fatal("a foreign user must not be able to revoke the session")
	}

	if err := m.RevokeForUser(ctx, "u1", "s1"); err != nil {
		t.Fatalf("RevokeForUser error: %v", err)
	}
	if store.snapshot("s1").RevokedAt == nil {
		t.Fatal("expected the owner's revoke to take effect")
	}
}

func TestListActiveSkipsDeadSessions(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")
	mustCreate(t, m, store, clock, "s2", "u1", "token-b")
	mustCreate(t, m, store, clock, "s3", "u2", "token-c")
	if err := m.Revoke(ctx, "s2"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	sessions, err := m.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("expected exactly [s1], got %+v", sessions)
	}
}

func TestConcurrentRefreshExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()
	m := newTestManager(t, store, clock)

	mustCreate(t, m, store, clock, "s1", "u1", "token-a")

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.ValidateAndRotate(ctx, "s1", "u1", "token-a", "fresh-token", Metadata{}, clock.Now().Add(720*time.Hour))
		}(i)
	}
	wg.Wait()

	var wins, cleanLosses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidRefreshToken):
			cleanLosses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one refresh to win, got %d", wins)
	}
	if cleanLosses != attempts-1 {
		t.Fatalf("expected %d clean losses, got %d", attempts-1, cleanLosses)
	}
	if store.revokeAllCalls != 0 {
		t.Fatal("losing an in-flight race must not look like theft")
	}
}

func TestConcurrentRefreshAcrossManagers(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	clock := newTestClock()

	// Two managers over one store model two processes handling the same
	// replayed refresh request. The striped locks cannot help here; only
	// the store's compare-and-swap keeps one rotation from clobbering
	// the other.
	m1 := newTestManager(t, store, clock)
	m2 := newTestManager(t, store, clock)

	mustCreate(t, m1, store, clock, "s1", "u1", "token-a")

	newTokens := []string{"fresh-b1", "fresh-b2"}
	managers := []*Manager{m1, m2}
	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = managers[i].ValidateAndRotate(ctx, "s1", "u1", "token-a", newTokens[i], Metadata{}, clock.Now().Add(720*time.Hour))
		}(i)
	}
	wg.Wait()

	var winner, loser = -1, -1
	for i, err := range results {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatal("both rotations committed")
			}
			winner = i
		case errors.Is(err, ErrInvalidRefreshToken):
			loser = i
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winner == -1 || loser == -1 {
		t.Fatalf("expected one winner and one clean loser, got %v", results)
	}
	if store.revokeAllCalls != 0 {
		t.Fatal("losing a cross-process race must not look like theft")
	}

	// Only the winner's pair stays redeemable; the loser's issued token
	// must be dead, not a divergent second current hash.
	if _, err := m1.ValidateForRefresh(ctx, "s1", "u1", newTokens[winner]); err != nil {
		t.Fatalf("winning token should validate: %v", err)
	}
	if _, err := m1.ValidateForRefresh(ctx, "s1", "u1", newTokens[loser]); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("losing token should be dead, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, Config{}); err == nil {
		t.Fatal("expected nil store to be rejected")
	}
	if _, err := NewManager(newFakeStore(), Config{BcryptCost: 4}); err == nil {
		t.Fatal("expected weak bcrypt cost to be rejected")
	}
	if _, err := NewManager(newFakeStore(), Config{ReuseGraceWindow: -time.Second}); err == nil {
		t.Fatal("expected negative grace window to be rejected")
	}
}
