package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Key namespace shared by every process in the cluster.
const (
	TokenPrefix    = "utoken_"
	HostPrefix     = "uip_"
	BaseInfoPrefix = "ubaseinfo_"
	LoginCountKey  = "logincount"
	CodePrefix     = "code_"
)

func TokenKey(token string) string { return TokenPrefix + token }
func HostKey(uid int) string       { return HostPrefix + strconv.Itoa(uid) }
func BaseInfoKey(uid int) string   { return BaseInfoPrefix + strconv.Itoa(uid) }
func CodeKey(email string) string  { return CodePrefix + email }

// Directory maps users to hosting servers and keeps the per-server login
// counters the status service balances on.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// BindToken records token as issued to uid. ttl <= 0 means no expiry.
func (d *Directory) BindToken(ctx context.Context, token string, uid int, ttl time.Duration) error {
	if err := d.store.Set(ctx, TokenKey(token), strconv.Itoa(uid), ttl); err != nil {
		return fmt.Errorf("bind token: %w", err)
	}
	return nil
}

// TokenUser resolves a token to the uid it was issued for. ok is false for an
// unknown or expired token.
func (d *Directory) TokenUser(ctx context.Context, token string) (uid int, ok bool, err error) {
	v, err := d.store.Get(ctx, TokenKey(token))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup token: %w", err)
	}
	uid, err = strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("lookup token: malformed uid %q", v)
	}
	return uid, true, nil
}

// ConsumeToken removes a token after a successful login.
func (d *Directory) ConsumeToken(ctx context.Context, token string) error {
	return d.store.Del(ctx, TokenKey(token))
}

// VerifyCode returns the registration code mailed to email. ok is false once
// the code has expired.
func (d *Directory) VerifyCode(ctx context.Context, email string) (code string, ok bool, err error) {
	code, err = d.store.Get(ctx, CodeKey(email))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup verify code: %w", err)
	}
	return code, true, nil
}

func (d *Directory) SetHost(ctx context.Context, uid int, server string) error {
	if err := d.store.Set(ctx, HostKey(uid), server, 0); err != nil {
		return fmt.Errorf("set host of %d: %w", uid, err)
	}
	return nil
}

// Host returns the server currently hosting uid. ok is false when the user
// has no presence record.
func (d *Directory) Host(ctx context.Context, uid int) (string, bool, error) {
	v, err := d.store.Get(ctx, HostKey(uid))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup host of %d: %w", uid, err)
	}
	return v, true, nil
}

// ClearHost removes the presence record of uid if it still names server.
// The read and the delete are two operations; a login elsewhere in between
// can be lost, which only makes that user unroutable until the next login.
func (d *Directory) ClearHost(ctx context.Context, uid int, server string) error {
	cur, ok, err := d.Host(ctx, uid)
	if err != nil || !ok || cur != server {
		return err
	}
	return d.store.Del(ctx, HostKey(uid))
}

func (d *Directory) ResetLoginCount(ctx context.Context, server string) error {
	return d.store.HSet(ctx, LoginCountKey, server, "0")
}

func (d *Directory) RemoveServer(ctx context.Context, server string) error {
	return d.store.HDel(ctx, LoginCountKey, server)
}

func (d *Directory) IncrLogin(ctx context.Context, server string) (int64, error) {
	return d.store.HIncrBy(ctx, LoginCountKey, server, 1)
}

func (d *Directory) DecrLogin(ctx context.Context, server string) (int64, error) {
	return d.store.HIncrBy(ctx, LoginCountKey, server, -1)
}

// LoginCount reads the active-session counter of server. ok is false when the
// server has never published a counter.
func (d *Directory) LoginCount(ctx context.Context, server string) (int64, bool, error) {
	v, err := d.store.HGet(ctx, LoginCountKey, server)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("login count of %s: %w", server, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("login count of %s: malformed %q", server, v)
	}
	return n, true, nil
}
