package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ErrCodeInvalid is returned for every consume failure: unknown code,
// expired code, already-used code, and owner-gate rejection. Collapsing
// them prevents a caller from probing which codes ever existed.
var ErrCodeInvalid = errors.New("invalid or expired code")

// Kind separates email-verification codes from password-reset codes.
// The two kinds live in separate stores and a code of one kind can never
// consume as the other.
type Kind int

const (
	KindVerification Kind = iota
	KindPasswordReset
)

func (k Kind) String() string {
	switch k {
	case KindVerification:
		return "verification"
	case KindPasswordReset:
		return "password_reset"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Record is one persisted code. UsedAt is nil while the code is live.
type Record struct {
	ID        string
	UserID    string
	Code      string
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Store persists codes. FindActive returns (nil, nil) when no unused,
// unexpired record matches. MarkUsed must fail with ErrCodeInvalid if
// the record is no longer unused, so that two concurrent consumes of one
// code cannot both succeed; any other error is an infrastructure
// failure.
type Store interface {
	InvalidateUnused(ctx context.Context, kind Kind, userID string, at time.Time) error
	Create(ctx context.Context, kind Kind, rec *Record) error
	FindActive(ctx context.Context, kind Kind, code string, now time.Time) (*Record, error)
	MarkUsed(ctx context.Context, kind Kind, id string, at time.Time) error
}

// OwnerGate is consulted before a matched code is consumed. A non-nil
// error rejects the consume as if the code did not exist.
type OwnerGate func(ctx context.Context, kind Kind, userID string) error

type Config struct {
	// Digits is the code length. Default 6.
	Digits int
	// TTL is the code lifetime. Default 10 minutes.
	TTL time.Duration
	// Gate, when set, vets the owning user on consume.
	Gate OwnerGate
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine generates and redeems single-use numeric codes.
type Engine struct {
	store  Store
	digits int
	ttl    time.Duration
	gate   OwnerGate
	now    func() time.Time
}

func NewEngine(store Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("otp: store is required")
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits < 4 || cfg.Digits > 10 {
		return nil, errors.New("otp: digits must be between 4 and 10")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.TTL < 0 {
		return nil, errors.New("otp: ttl must be positive")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, digits: cfg.Digits, ttl: cfg.TTL, gate: cfg.Gate, now: now}, nil
}

// Issue invalidates every prior unused code of this kind for the user,
// persists a fresh one, and returns it for delivery. Dispatch is the
// caller's job and must happen after this returns.
func (e *Engine) Issue(ctx context.Context, kind Kind, userID string) (string, error) {
	code, err := e.generate()
	if err != nil {
		return "", err
	}

	now := e.now()
	if err := e.store.InvalidateUnused(ctx, kind, userID, now); err != nil {
		return "", fmt.Errorf("otp: invalidate prior codes: %w", err)
	}
	rec := &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		ExpiresAt: now.Add(e.ttl),
	}
	if err := e.store.Create(ctx, kind, rec); err != nil {
		return "", fmt.Errorf("otp: persist code: %w", err)
	}
	return code, nil
}

// Consume redeems a code exactly once and returns the owning user id.
func (e *Engine) Consume(ctx context.Context, kind Kind, code string) (string, error) {
	if len(code) != e.digits || !numeric(code) {
		return "", ErrCodeInvalid
	}

	now := e.now()
	rec, err := e.store.FindActive(ctx, kind, code, now)
	if err != nil {
		return "", fmt.Errorf("otp: lookup code: %w", err)
	}
	if rec == nil {
		return "", ErrCodeInvalid
	}
	if e.gate != nil {
		if err := e.gate(ctx, kind, rec.UserID); err != nil {
			return "", ErrCodeInvalid
		}
	}
	if err := e.store.MarkUsed(ctx, kind, rec.ID, now); err != nil {
		if errors.Is(err, ErrCodeInvalid) {
			// Lost a consume race; the code is spent from this
			// caller's point of view.
			return "", ErrCodeInvalid
		}
		return "", fmt.Errorf("otp: mark code used: %w", err)
	}
	return rec.UserID, nil
}

func (e *Engine) generate() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", e.digits, n), nil
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
