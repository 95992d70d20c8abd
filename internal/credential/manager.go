package credential

import (
	"fmt"
	"os"
	"strconv"
)

// Algorithm names accepted by PASSWORD_ALGO.
const (
	AlgoBcrypt   = "bcrypt"
	AlgoArgon2id = "argon2id"
)

// DefaultBcryptCost matches the cost the music-app backend always used.
const DefaultBcryptCost = 10

// Config selects the primary algorithm and its work factor.
type Config struct {
	Algo          string
	BcryptCost    int
	Argon2Memory  uint32
	Argon2Time    uint32
	Argon2Threads uint8
}

// ConfigFromEnv reads PASSWORD_ALGO, BCRYPT_COST and ARGON2_* variables.
func ConfigFromEnv() Config {
	cfg := Config{Algo: AlgoBcrypt, BcryptCost: DefaultBcryptCost}
	if v := os.Getenv("PASSWORD_ALGO"); v != "" {
		cfg.Algo = v
	}
	if v, err := strconv.Atoi(os.Getenv("BCRYPT_COST")); err == nil {
		cfg.BcryptCost = v
	}
	if v, err := strconv.ParseUint(os.Getenv("ARGON2_MEMORY_KIB"), 10, 32); err == nil {
		cfg.Argon2Memory = uint32(v)
	}
	if v, err := strconv.ParseUint(os.Getenv("ARGON2_TIME"), 10, 32); err == nil {
		cfg.Argon2Time = uint32(v)
	}
	if v, err := strconv.ParseUint(os.Getenv("ARGON2_THREADS"), 10, 8); err == nil {
		cfg.Argon2Threads = uint8(v)
	}
	return cfg
}

// Manager derives secrets with its primary hasher and verifies against any
// registered hasher that recognizes the stored encoding, so the work factor
// or even the algorithm can change without invalidating stored secrets.
// A Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	primary PasswordHasher
	hashers []PasswordHasher
}

// NewManager registers primary first, then any legacy hashers.
func NewManager(primary PasswordHasher, legacy ...PasswordHasher) *Manager {
	return &Manager{primary: primary, hashers: append([]PasswordHasher{primary}, legacy...)}
}

// NewManagerFromConfig builds a Manager whose primary hasher is cfg.Algo. The
// other algorithm stays registered for verification.
func NewManagerFromConfig(cfg Config) (*Manager, error) {
	bc, err := NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	a2 := NewArgon2idHasher()
	if cfg.Argon2Memory > 0 {
		a2.Memory = cfg.Argon2Memory
	}
	if cfg.Argon2Time > 0 {
		a2.Time = cfg.Argon2Time
	}
	if cfg.Argon2Threads > 0 {
		a2.Threads = cfg.Argon2Threads
	}
	switch cfg.Algo {
	case "", AlgoBcrypt:
		return NewManager(bc, a2), nil
	case AlgoArgon2id:
		return NewManager(a2, bc), nil
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", cfg.Algo)
	}
}

// Algorithm returns the primary hasher's name.
func (m *Manager) Algorithm() string { return m.primary.Name() }

// DeriveSecret turns a plaintext password into a salted one-way secret. Two
// calls with the same password return different secrets. Callers enforce their
// own password policy; any content is accepted here. The only failure is
// ErrCryptoFailure.
func (m *Manager) DeriveSecret(password string) (string, error) {
	return m.primary.Hash(password)
}

// VerifySecret reports whether password matches secret. It returns false for
// a malformed or unrecognized secret.
func (m *Manager) VerifySecret(password, secret string) bool {
	h := m.hasherFor(secret)
	if h == nil {
		return false
	}
	return h.Verify(secret, password)
}

// NeedsRehash reports whether secret should be re-derived with the current
// primary settings.
func (m *Manager) NeedsRehash(secret string) bool {
	h := m.hasherFor(secret)
	if h == nil {
		return false
	}
	if h != m.primary {
		return true
	}
	return h.NeedsRehash(secret)
}

func (m *Manager) hasherFor(secret string) PasswordHasher {
	for _, h := range m.hashers {
		if h.Recognizes(secret) {
			return h
		}
	}
	return nil
}
