package session

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrSessionNotFound covers both an unknown session id and a user id
	// that does not own the session.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session expired")
	// ErrSessionNotActive is returned by Rotate when the session is
	// revoked or expired.
	ErrSessionNotActive = errors.New("session not active")
	// ErrInvalidRefreshToken means the presented token never matched the
	// session, or lost an in-flight rotation race inside the grace
	// window. No punitive action is taken.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrTokenReuseDetected means the presented token was valid before
	// the last rotation: someone replayed a token the legitimate client
	// already exchanged. Every active session of the user has been
	// revoked by the time this error is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrRotationConflict is returned by Store.UpdateRotated when the
	// row's current token hash no longer matches the expected prior
	// hash, meaning another rotation committed first.
	ErrRotationConflict = errors.New("session rotation conflict")
)

// Session is the unit of revocation: one login creates one session, and
// refreshing rotates the hash fields in place under the same id. Revoked
// and expired rows are retained, not deleted.
type Session struct {
	ID                string
	UserID            string
	CurrentTokenHash  string
	PreviousTokenHash string
	IPAddress         string
	UserAgent         string
	CreatedAt         time.Time
	LastUsedAt        time.Time
	RotatedAt         time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time
}

// Active reports whether the session is neither revoked nor expired at t.
func (s *Session) Active(t time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(t)
}

// Metadata is the client context captured on create and rotate.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// Store is the persistence contract for session rows. Get returns
// ErrSessionNotFound for unknown ids. The Revoke* operations only touch
// rows whose RevokedAt is still null, which makes them idempotent.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// UpdateRotated persists a rotation only while the row's current
	// token hash still equals priorHash, as a compare-and-swap; when
	// the guard matches zero rows it returns ErrRotationConflict.
	UpdateRotated(ctx context.Context, s *Session, priorHash string) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]*Session, error)
	Revoke(ctx context.Context, sessionID string, at time.Time) error
	RevokeForUser(ctx context.Context, userID, sessionID string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
}

type Config struct {
	// BcryptCost is the work factor for refresh token hashes.
	// Default 12, minimum 10.
	BcryptCost int
	// ReuseGraceWindow bounds how long after a rotation the previous
	// token hash is treated as a lost in-flight race rather than theft.
	// Default 10 seconds.
	ReuseGraceWindow time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

const lockStripes = 64

// Manager owns every mutation of session rows and polices refresh-token
// abuse. Rotation commits through the store's compare-and-swap on the
// current token hash, so concurrent refreshes with the same token cannot
// both succeed even across processes; the striped locks additionally
// serialize in-process callers so losers fail on the cheap hash
// comparison instead of burning a bcrypt round on a doomed write.
type Manager struct {
	store Store
	cost  int
	grace time.Duration
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 10 || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, errors.New("session: bcrypt cost must be between 10 and 31")
	}
	if cfg.ReuseGraceWindow == 0 {
		cfg.ReuseGraceWindow = 10 * time.Second
	}
	if cfg.ReuseGraceWindow < 0 {
		return nil, errors.New("session: reuse grace window must be positive")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, cost: cfg.BcryptCost, grace: cfg.ReuseGraceWindow, now: now}, nil
}

// Create hashes the refresh token and inserts an active session row.
func (m *Manager) Create(ctx context.Context, sessionID, userID, refreshToken string, meta Metadata, expiresAt time.Time) (*Session, error) {
	hash, err := m.hashToken(refreshToken)
	if err != nil {
		return nil, err
	}
	now := m.now()
	s := &Session{
		ID:               sessionID,
		UserID:           userID,
		CurrentTokenHash: hash,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        expiresAt,
	}
	if err := m.store.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}
	return s, nil
}

// Rotate moves the current token hash into the previous slot and stores
// the hash of the new token, keeping the same session id across the
// whole lifetime of a device login. The session must be active.
func (m *Manager) Rotate(ctx context.Context, sessionID, newRefreshToken string, meta Metadata, newExpiresAt time.Time) (*Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.rotateLocked(ctx, sessionID, newRefreshToken, meta, newExpiresAt)
}

// ValidateForRefresh runs the theft-detection protocol for a presented
// refresh token. A match on the current hash returns the session. A
// match on the previous hash outside the grace window revokes every
// active session of the user and fails with ErrTokenReuseDetected; a
// token that never matched just fails with ErrInvalidRefreshToken.
func (m *Manager) ValidateForRefresh(ctx context.Context, sessionID, userID, refreshToken string) (*Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.validateLocked(ctx, sessionID, userID, refreshToken)
}

// ValidateAndRotate performs ValidateForRefresh and Rotate under a
// single lock, so the validate-rotate pair cannot interleave with a
// concurrent refresh of the same session.
func (m *Manager) ValidateAndRotate(ctx context.Context, sessionID, userID, presentedToken, newRefreshToken string, meta Metadata, newExpiresAt time.Time) (*Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.validateLocked(ctx, sessionID, userID, presentedToken); err != nil {
		return nil, err
	}
	return m.rotateLocked(ctx, sessionID, newRefreshToken, meta, newExpiresAt)
}

// AssertActive is the light check run for every authenticated request:
// the session must exist, belong to the user, and be neither revoked nor
// expired. Expired sessions are lazily revoked on detection.
func (m *Manager) AssertActive(ctx context.Context, sessionID, userID string) (*Session, error) {
	s, err := m.get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	now := m.now()
	if !s.ExpiresAt.After(now) {
		if err := m.store.Revoke(ctx, s.ID, now); err != nil {
			return nil, fmt.Errorf("session: revoke expired: %w", err)
		}
		return nil, ErrSessionExpired
	}
	return s, nil
}

// ListActive returns the user's live sessions, most recently used first.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := m.store.ListActive(ctx, userID, m.now())
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}

// Revoke marks one session revoked. Revoking an already-revoked session
// is a no-op.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.store.Revoke(ctx, sessionID, m.now()); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// RevokeForUser revokes a session only if the user owns it.
func (m *Manager) RevokeForUser(ctx context.Context, userID, sessionID string) error {
	if err := m.store.RevokeForUser(ctx, userID, sessionID, m.now()); err != nil {
		return fmt.Errorf("session: revoke for user: %w", err)
	}
	return nil
}

// RevokeAll revokes every active session of the user.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	if err := m.store.RevokeAllForUser(ctx, userID, m.now()); err != nil {
		return fmt.Errorf("session: revoke all: %w", err)
	}
	return nil
}

func (m *Manager) validateLocked(ctx context.Context, sessionID, userID, refreshToken string) (*Session, error) {
	s, err := m.get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	now := m.now()
	if !s.ExpiresAt.After(now) {
		if err := m.store.Revoke(ctx, s.ID, now); err != nil {
			return nil, fmt.Errorf("session: revoke expired: %w", err)
		}
		return nil, ErrSessionExpired
	}

	if matchToken(s.CurrentTokenHash, refreshToken) {
		return s, nil
	}

	if s.PreviousTokenHash != "" && matchToken(s.PreviousTokenHash, refreshToken) {
		if !s.RotatedAt.IsZero() && now.Sub(s.RotatedAt) <= m.grace {
			// A concurrent refresh just won the rotation; treat the
			// loser as a clean failure, not as theft.
			return nil, ErrInvalidRefreshToken
		}
		// Replay of an already-rotated token: evidence of a cloned or
		// stolen credential. Lock the whole account out.
		if err := m.store.RevokeAllForUser(ctx, s.UserID, now); err != nil {
			return nil, fmt.Errorf("session: revoke all on reuse: %w", err)
		}
		return nil, ErrTokenReuseDetected
	}

	return nil, ErrInvalidRefreshToken
}

func (m *Manager) rotateLocked(ctx context.Context, sessionID, newRefreshToken string, meta Metadata, newExpiresAt time.Time) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotActive
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	now := m.now()
	if !s.Active(now) {
		return nil, ErrSessionNotActive
	}

	hash, err := m.hashToken(newRefreshToken)
	if err != nil {
		return nil, err
	}
	prior := s.CurrentTokenHash
	s.PreviousTokenHash = s.CurrentTokenHash
	s.CurrentTokenHash = hash
	if meta.IPAddress != "" {
		s.IPAddress = meta.IPAddress
	}
	if meta.UserAgent != "" {
		s.UserAgent = meta.UserAgent
	}
	s.LastUsedAt = now
	s.RotatedAt = now
	s.ExpiresAt = newExpiresAt
	if err := m.store.UpdateRotated(ctx, s, prior); err != nil {
		if errors.Is(err, ErrRotationConflict) {
			// Another process rotated between our read and our write.
			// Same classification as losing the in-process race.
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("session: update: %w", err)
	}
	return s, nil
}

func (m *Manager) get(ctx context.Context, sessionID, userID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &m.locks[h.Sum32()%lockStripes]
}

// hashToken bcrypts a digest of the token rather than the token itself:
// signed refresh tokens exceed bcrypt's 72-byte input limit.
func (m *Manager) hashToken(refreshToken string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(digest(refreshToken), m.cost)
	if err != nil {
		return "", fmt.Errorf("session: hash refresh token: %w", err)
	}
	return string(hash), nil
}

func matchToken(storedHash, refreshToken string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest(refreshToken)) == nil
}

func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}
