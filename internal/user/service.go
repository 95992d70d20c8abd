package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/credential"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/session"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-music-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-music-auth/pkg/utilities"
)

// Store is the identity record store. Implementations normalize their driver
// errors to repo.ErrNotFound, repo.ErrDuplicate and repo.ErrInvalidID.
type Store interface {
	Create(ctx context.Context, email, secret string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
	List(ctx context.Context) ([]*entity.User, error)
	Update(ctx context.Context, id string, ch entity.Changes) (*entity.User, error)
	Delete(ctx context.Context, id string) (*entity.User, error)
}

// HashObserver receives the duration of every password derivation or check.
type HashObserver func(op string, d time.Duration)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateIdentity    = errors.New("email already registered")
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrUnknownIdentity      = fmt.Errorf("%w: unknown email", ErrAuthenticationFailed)
	ErrBadPassword          = fmt.Errorf("%w: password mismatch", ErrAuthenticationFailed)
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidID            = errors.New("invalid user id")
)

// Config holds the dispatcher-side policy knobs.
type Config struct {
	MinPasswordLength int
	HashWorkers       int
}

// ConfigFromEnv reads PASSWORD_MIN_LENGTH (default 8) and HASH_WORKERS
// (default GOMAXPROCS).
func ConfigFromEnv() Config {
	cfg := Config{MinPasswordLength: 8, HashWorkers: runtime.GOMAXPROCS(0)}
	if v, err := strconv.Atoi(os.Getenv("PASSWORD_MIN_LENGTH")); err == nil && v > 0 {
		cfg.MinPasswordLength = v
	}
	if v, err := strconv.Atoi(os.Getenv("HASH_WORKERS")); err == nil && v > 0 {
		cfg.HashWorkers = v
	}
	return cfg
}

// UserService orchestrates registration, login and token checks. It owns no
// mutable state besides what the store holds and is safe for concurrent use.
type UserService struct {
	store  Store
	creds  *credential.Manager
	tokens *session.Issuer
	// bounds concurrent password hashing so CPU-heavy work cannot starve other requests
	slots   *semaphore.Weighted
	minPass int
	now     func() time.Time
	observe HashObserver

	dummyMu sync.Mutex
	dummy   string
}

func NewUserService(store Store, creds *credential.Manager, tokens *session.Issuer, cfg Config) *UserService {
	workers := cfg.HashWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	minPass := cfg.MinPasswordLength
	if minPass <= 0 {
		minPass = 1
	}
	return &UserService{
		store:   store,
		creds:   creds,
		tokens:  tokens,
		slots:   semaphore.NewWeighted(int64(workers)),
		minPass: minPass,
		now:     time.Now,
		observe: func(string, time.Duration) {},
	}
}

// WithClock replaces the time source used for token issuance and validation.
func (s *UserService) WithClock(now func() time.Time) *UserService {
	s.now = now
	return s
}

// WithHashObserver installs a callback for hashing latency.
func (s *UserService) WithHashObserver(o HashObserver) *UserService {
	if o != nil {
		s.observe = o
	}
	return s
}

// Register validates input, derives the secret and persists the identity.
func (s *UserService) Register(ctx context.Context, email, password string) (*entity.User, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.validatePassword(password); err != nil {
		return nil, err
	}
	secret, err := s.derive(ctx, password)
	if err != nil {
		return nil, err
	}
	u, err := s.store.Create(ctx, email, secret)
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login verifies the password and issues a token valid for the issuer's TTL.
func (s *UserService) Login(ctx context.Context, email, password string) (string, *entity.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			// same hashing work as a real mismatch
			_, _ = s.verify(ctx, password, s.dummySecret())
			return "", nil, ErrUnknownIdentity
		}
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	ok, err := s.verify(ctx, password, u.Secret)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrBadPassword
	}

	// work factor was raised since this secret was stored; best effort
	if s.creds.NeedsRehash(u.Secret) {
		if secret, hErr := s.derive(ctx, password); hErr == nil {
			_, _ = s.store.Update(ctx, u.ID, entity.Changes{Secret: &secret})
		}
	}

	token, err := s.tokens.Issue(u.ID, s.now(), s.tokens.TTL())
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, u, nil
}

// Authenticate validates a bearer token and returns its subject.
func (s *UserService) Authenticate(ctx context.Context, token string) (string, error) {
	return s.tokens.Validate(token, s.now())
}

func (s *UserService) List(ctx context.Context) ([]*entity.User, error) {
	return s.store.List(ctx)
}

func (s *UserService) Get(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return u, nil
}

// Update changes the email and/or password of an identity. A new password is
// derived into a fresh secret.
func (s *UserService) Update(ctx context.Context, id string, email, password *string) (*entity.User, error) {
	var ch entity.Changes
	if email != nil {
		e := strings.TrimSpace(*email)
		if err := validateEmail(e); err != nil {
			return nil, err
		}
		ch.Email = &e
	}
	if password != nil {
		if err := s.validatePassword(*password); err != nil {
			return nil, err
		}
		secret, err := s.derive(ctx, *password)
		if err != nil {
			return nil, err
		}
		ch.Secret = &secret
	}
	if ch.Email == nil && ch.Secret == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	u, err := s.store.Update(ctx, id, ch)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return u, nil
}

func (s *UserService) Delete(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return u, nil
}

func (s *UserService) derive(ctx context.Context, password string) (string, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.slots.Release(1)
	start := time.Now()
	secret, err := s.creds.DeriveSecret(password)
	s.observe("derive", time.Since(start))
	return secret, err
}

// dummySecret is a primary-algorithm secret no password is expected to match.
// A failed derivation is not cached; the next unknown-identity login retries.
func (s *UserService) dummySecret() string {
	s.dummyMu.Lock()
	cached := s.dummy
	s.dummyMu.Unlock()
	if cached != "" {
		return cached
	}

	secret, err := s.creds.DeriveSecret(utilities.NewKSUID())
	if err != nil {
		return ""
	}
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummy == "" {
		s.dummy = secret
	}
	return s.dummy
}

func (s *UserService) verify(ctx context.Context, password, secret string) (bool, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.slots.Release(1)
	start := time.Now()
	ok := s.creds.VerifySecret(password, secret)
	s.observe("verify", time.Since(start))
	return ok, nil
}

func (s *UserService) validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len([]rune(password)) < s.minPass {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, s.minPass)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, userrepo.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, userrepo.ErrInvalidID):
		return ErrInvalidID
	case errors.Is(err, userrepo.ErrDuplicate):
		return ErrDuplicateIdentity
	default:
		return err
	}
}
