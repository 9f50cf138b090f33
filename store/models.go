package store

import (
	"time"

	"github.com/vaultsync/authcore/identity"
	"github.com/vaultsync/authcore/otp"
	"github.com/vaultsync/authcore/session"
)

type userRow struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Email         string    `gorm:"uniqueIndex;not null"`
	PasswordHash  string
	Provider      string    `gorm:"type:text;not null"`
	ProviderID    string
	EmailVerified bool      `gorm:"not null;default:false"`
	DisplayName   string
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (userRow) TableName() string { return "auth_users" }

func (r *userRow) toUser() *identity.User {
	return &identity.User{
		ID:            r.ID,
		Email:         r.Email,
		PasswordHash:  r.PasswordHash,
		Provider:      identity.Provider(r.Provider),
		ProviderID:    r.ProviderID,
		EmailVerified: r.EmailVerified,
		DisplayName:   r.DisplayName,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func userToRow(u *identity.User) *userRow {
	return &userRow{
		ID:            u.ID,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		Provider:      string(u.Provider),
		ProviderID:    u.ProviderID,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// otpRow backs both code kinds; each kind lives in its own table so the
// two code spaces can never collide.
type otpRow struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	UserID    string     `gorm:"type:uuid;index;not null"`
	Code      string     `gorm:"index;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

func otpTable(kind otp.Kind) string {
	switch kind {
	case otp.KindVerification:
		return "verification_otps"
	case otp.KindPasswordReset:
		return "password_reset_otps"
	default:
		return "otps"
	}
}

func (r *otpRow) toRecord() *otp.Record {
	return &otp.Record{
		ID:        r.ID,
		UserID:    r.UserID,
		Code:      r.Code,
		ExpiresAt: r.ExpiresAt,
		UsedAt:    r.UsedAt,
	}
}

type sessionRow struct {
	ID                string     `gorm:"type:uuid;primaryKey"`
	UserID            string     `gorm:"type:uuid;index;not null"`
	CurrentTokenHash  string     `gorm:"not null"`
	PreviousTokenHash string
	IPAddress         string
	UserAgent         string
	CreatedAt         time.Time  `gorm:"not null"`
	LastUsedAt        time.Time  `gorm:"not null"`
	RotatedAt         time.Time
	ExpiresAt         time.Time  `gorm:"not null"`
	RevokedAt         *time.Time
}

func (sessionRow) TableName() string { return "auth_sessions" }

func (r *sessionRow) toSession() *session.Session {
	return &session.Session{
		ID:                r.ID,
		UserID:            r.UserID,
		CurrentTokenHash:  r.CurrentTokenHash,
		PreviousTokenHash: r.PreviousTokenHash,
		IPAddress:         r.IPAddress,
		UserAgent:         r.UserAgent,
		CreatedAt:         r.CreatedAt,
		LastUsedAt:        r.LastUsedAt,
		RotatedAt:         r.RotatedAt,
		ExpiresAt:         r.ExpiresAt,
		RevokedAt:         r.RevokedAt,
	}
}

func sessionToRow(s *session.Session) *sessionRow {
	return &sessionRow{
		ID:                s.ID,
		UserID:            s.UserID,
		CurrentTokenHash:  s.CurrentTokenHash,
		PreviousTokenHash: s.PreviousTokenHash,
		IPAddress:         s.IPAddress,
		UserAgent:         s.UserAgent,
		CreatedAt:         s.CreatedAt,
		LastUsedAt:        s.LastUsedAt,
		RotatedAt:         s.RotatedAt,
		ExpiresAt:         s.ExpiresAt,
		RevokedAt:         s.RevokedAt,
	}
}
