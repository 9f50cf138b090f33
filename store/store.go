// Package store is the relational credential store adapter: GORM-backed
// repositories for user, OTP, and session rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/session"
)

// Open dials Postgres with exponential backoff so the service survives a
// database that comes up a few seconds later than it does.
func Open(dsn string) (*gorm.DB, error) {
	var db *gorm.DB
	dial := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	return db, nil
}

// Store bundles the three repositories over one gorm handle.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the backing tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&userRow{}, &sessionRow{}); err != nil {
		return err
	}
	for _, kind := range []otp.Kind{otp.KindVerification, otp.KindPasswordReset} {
		if err := s.db.Table(otpTable(kind)).AutoMigrate(&otpRow{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Users() identity.Store   { return &userRepo{db: s.db} }
func (s *Store) OTP() otp.Store          { return &otpRepo{db: s.db} }
func (s *Store) Sessions() session.Store { return &sessionRepo{db: s.db} }

type userRepo struct{ db *gorm.DB }

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	var row userRow
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*identity.User, error) {
	var row userRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

func (r *userRepo) Create(ctx context.Context, u *identity.User) error {
	return r.db.WithContext(ctx).Create(userToRow(u)).Error
}

func (r *userRepo) Update(ctx context.Context, u *identity.User) error {
	return r.db.WithContext(ctx).Save(userToRow(u)).Error
}

type otpRepo struct{ db *gorm.DB }

func (r *otpRepo) InvalidateUnused(ctx context.Context, kind otp.Kind, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Table(otpTable(kind)).
		Where("user_id = ? AND used_at IS NULL", userID).
		Update("used_at", at).Error
}

func (r *otpRepo) Create(ctx context.Context, kind otp.Kind, rec *otp.Record) error {
	row := &otpRow{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Code:      rec.Code,
		ExpiresAt: rec.ExpiresAt,
		UsedAt:    rec.UsedAt,
	}
	return r.db.WithContext(ctx).Table(otpTable(kind)).Create(row).Error
}

func (r *otpRepo) FindActive(ctx context.Context, kind otp.Kind, code string, now time.Time) (*otp.Record, error) {
	var row otpRow
	err := r.db.WithContext(ctx).Table(otpTable(kind)).
		Where("code = ? AND used_at IS NULL AND expires_at > ?", code, now).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.toRecord(), nil
}

// MarkUsed conditions the update on the row still being unused, so a
// raced second consume sees zero affected rows and fails.
func (r *otpRepo) MarkUsed(ctx context.Context, kind otp.Kind, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Table(otpTable(kind)).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return otp.ErrCodeInvalid
	}
	return nil
}

type sessionRepo struct{ db *gorm.DB }

func (r *sessionRepo) Insert(ctx context.Context, s *session.Session) error {
	return r.db.WithContext(ctx).Create(sessionToRow(s)).Error
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*session.Session, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return row.toSession(), nil
}

// UpdateRotated guards the write on the current token hash the caller
// read, so two processes rotating the same session cannot both commit.
func (r *sessionRepo) UpdateRotated(ctx context.Context, s *session.Session, priorHash string) error {
	res := r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND current_token_hash = ?", s.ID, priorHash).
		Updates(map[string]interface{}{
			"current_token_hash":  s.CurrentTokenHash,
			"previous_token_hash": s.PreviousTokenHash,
			"ip_address":          s.IPAddress,
			"user_agent":          s.UserAgent,
			"last_used_at":        s.LastUsedAt,
			"rotated_at":          s.RotatedAt,
			"expires_at":          s.ExpiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return session.ErrRotationConflict
	}
	return nil
}

func (r *sessionRepo) ListActive(ctx context.Context, userID string, now time.Time) ([]*session.Session, error) {
	var rows []sessionRow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("last_used_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sessions := make([]*session.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}

// The revoke operations only touch rows whose revoked_at is still null;
// revoking twice is a no-op, not an error.
func (r *sessionRepo) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", at).Error
}

func (r *sessionRepo) RevokeForUser(ctx context.Context, userID, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", sessionID, userID).
		Update("revoked_at", at).Error
}

func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&sessionRow{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at).Error
}
