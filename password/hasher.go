package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcAlgorithm = "argon2id"

var ErrMalformedHash = errors.New("malformed password hash")

// Config holds the argon2id cost parameters. Zero values are replaced by
// the defaults from DefaultConfig.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the parameters used when none are configured:
// 64 MiB memory, 2 passes, 2 lanes, 16-byte salt, 32-byte key.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and verifies argon2id password hashes in PHC string
// format. A Hasher is immutable and safe for concurrent use.
type Hasher struct {
	config Config
}

func NewHasher(cfg Config) (*Hasher, error) {
	def := DefaultConfig()
	if cfg.Memory == 0 {
		cfg.Memory = def.Memory
	}
	if cfg.Time == 0 {
		cfg.Time = def.Time
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.SaltLength == 0 {
		cfg.SaltLength = def.SaltLength
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = def.KeyLength
	}
	if cfg.Memory < 8*1024 {
		return nil, errors.New("password: memory must be >= 8192 KiB")
	}
	if cfg.SaltLength < 16 || cfg.KeyLength < 16 {
		return nil, errors.New("password: salt and key must be >= 16 bytes")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a salted argon2id hash and encodes it as
// $argon2id$v=19$m=...,t=...,p=...$salt$key.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded and
// compares in constant time. The stored parameters win over the Hasher's
// own config so old hashes keep verifying after a cost change.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	memory, time, parallelism, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), salt, time, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

func decodePHC(encoded string) (memory, time uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithm {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	version, convErr := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if convErr != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	if _, convErr = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &parallelism); convErr != nil {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}
	if memory == 0 || time == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	salt, convErr = base64.RawStdEncoding.DecodeString(parts[4])
	if convErr != nil || len(salt) < 8 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}
	key, convErr = base64.RawStdEncoding.DecodeString(parts[5])
	if convErr != nil || len(key) < 16 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}
	return memory, time, parallelism, salt, key, nil
}
