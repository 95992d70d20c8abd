package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-music-auth/pkg/utilities"
)

// MemoryRepo keeps users in a map. Used by tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]*entity.User
	byEmail map[string]string
	newID   func() string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]*entity.User),
		byEmail: make(map[string]string),
		newID:   utilities.NewSnowflakeID,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, email, secret string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[email]; taken {
		return nil, ErrDuplicate
	}
	now := time.Now().UTC()
	u := &entity.User{ID: r.newID(), Email: email, Secret: secret, CreatedAt: now, UpdatedAt: now}
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	if !utilities.IsSnowflakeID(id) {
		return nil, ErrInvalidID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.User, 0, len(r.byID))
	for _, u := range r.byID {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, ch entity.Changes) (*entity.User, error) {
	if !utilities.IsSnowflakeID(id) {
		return nil, ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ch.Email != nil && *ch.Email != u.Email {
		if _, taken := r.byEmail[*ch.Email]; taken {
			return nil, ErrDuplicate
		}
		delete(r.byEmail, u.Email)
		u.Email = *ch.Email
		r.byEmail[u.Email] = id
	}
	if ch.Secret != nil {
		u.Secret = *ch.Secret
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) (*entity.User, error) {
	if !utilities.IsSnowflakeID(id) {
		return nil, ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, u.Email)
	return u, nil
}
