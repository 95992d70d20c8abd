package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Upper bound on the memory cost accepted from a stored secret (4 GiB).
const maxArgon2Memory = 4 * 1024 * 1024

// Argon2idHasher derives PHC-encoded argon2id secrets:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// NewArgon2idHasher returns a hasher with the OWASP-recommended baseline.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{
		Memory:  64 * 1024,
		Time:    1,
		Threads: 4,
		SaltLen: 16,
		KeyLen:  32,
	}
}

func (h *Argon2idHasher) Name() string { return AlgoArgon2id }

func (h *Argon2idHasher) Hash(pw string) (string, error) {
	salt := make([]byte, h.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: salt: %v", ErrCryptoFailure, err)
	}
	key := argon2.IDKey([]byte(pw), salt, h.Time, h.Memory, h.Threads, h.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.Memory,
		h.Time,
		h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2idHasher) Verify(secret, pw string) bool {
	p, salt, want, err := decodeArgon2id(secret)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(pw), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h *Argon2idHasher) Recognizes(secret string) bool {
	return strings.HasPrefix(secret, "$argon2id$")
}

func (h *Argon2idHasher) NeedsRehash(secret string) bool {
	p, _, _, err := decodeArgon2id(secret)
	if err != nil {
		return false
	}
	return p.Memory < h.Memory || p.Time < h.Time || p.Threads < h.Threads
}

func decodeArgon2id(secret string) (*Argon2idHasher, []byte, []byte, error) {
	parts := strings.Split(secret, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, nil, nil, fmt.Errorf("invalid argon2id secret")
	}
	if parts[1] != "argon2id" {
		return nil, nil, nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}
	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid parameters: %w", err)
	}
	// argon2.IDKey panics on zero time or threads
	if memory == 0 || memory > maxArgon2Memory || time == 0 || threads == 0 || threads > 255 {
		return nil, nil, nil, fmt.Errorf("parameters out of range")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid key: %w", err)
	}
	if len(key) == 0 || len(key) > 1024 {
		return nil, nil, nil, fmt.Errorf("invalid key length %d", len(key))
	}
	return &Argon2idHasher{Memory: memory, Time: time, Threads: uint8(threads)}, salt, key, nil
}
