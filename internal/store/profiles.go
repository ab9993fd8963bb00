package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/presence"
)

// UserSource is where Profiles reads on a cache miss.
type UserSource interface {
	GetUser(ctx context.Context, uid int) (*User, error)
	GetUserByName(ctx context.Context, name string) (*User, error)
}

// Profiles is a cache-aside view of user profiles keyed by
// presence.BaseInfoKey. Cache failures fall through to the source.
type Profiles struct {
	src    UserSource
	cache  presence.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewProfiles(src UserSource, cache presence.Store, ttl time.Duration, logger *slog.Logger) *Profiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiles{src: src, cache: cache, ttl: ttl, logger: logger}
}

func (p *Profiles) Get(ctx context.Context, uid int) (*User, error) {
	key := presence.BaseInfoKey(uid)
	raw, err := p.cache.Get(ctx, key)
	switch {
	case err == nil:
		var usr User
		if jerr := json.Unmarshal([]byte(raw), &usr); jerr == nil {
			return &usr, nil
		}
		p.logger.Warn("corrupt cached profile", "uid", uid)
	case !errors.Is(err, presence.ErrNotFound):
		p.logger.Warn("profile cache read failed", "uid", uid, "error", err)
	}

	usr, err := p.src.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	p.fill(ctx, usr)
	return usr, nil
}

// ByName always reads the source, then refreshes the cache entry.
func (p *Profiles) ByName(ctx context.Context, name string) (*User, error) {
	usr, err := p.src.GetUserByName(ctx, name)
	if err != nil {
		return nil, err
	}
	p.fill(ctx, usr)
	return usr, nil
}

// Invalidate drops the cached profile of uid.
func (p *Profiles) Invalidate(ctx context.Context, uid int) error {
	return p.cache.Del(ctx, presence.BaseInfoKey(uid))
}

func (p *Profiles) fill(ctx context.Context, usr *User) {
	data, err := json.Marshal(usr)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, presence.BaseInfoKey(usr.UID), string(data), p.ttl); err != nil {
		p.logger.Warn("profile cache write failed", "uid", usr.UID, "error", err)
	}
}
