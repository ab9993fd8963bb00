// Package store persists users, friend applications and friendships in
// Postgres, and caches user profiles in the presence store.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/pool"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound         = errors.New("store: user not found")
	ErrPasswordMismatch = errors.New("store: password mismatch")
	ErrUserExists       = errors.New("store: user already exists")
)

type User struct {
	UID    int    `json:"uid"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Passwd string `json:"-"`
	Nick   string `json:"nick"`
	Desc   string `json:"desc"`
	Sex    int    `json:"sex"`
	Icon   string `json:"icon"`
	Back   string `json:"back,omitempty"`
}

// Apply is a pending or accepted friend application, described by the
// applicant's profile.
type Apply struct {
	UID    int    `json:"uid"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	Icon   string `json:"icon"`
	Nick   string `json:"nick"`
	Sex    int    `json:"sex"`
	Status int    `json:"status"`
}

type Options struct {
	DSN      string
	PoolSize int

	CheckInterval time.Duration
	StaleAfter    time.Duration
	ProbeTimeout  time.Duration
}

// Users runs every query on a *pgx.Conn checked out of a pool.Pool.
type Users struct {
	conns *pool.Pool[*pgx.Conn]
}

func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Users, error) {
	conns, err := pool.New(ctx, pool.Options[*pgx.Conn]{
		Name: "postgres",
		Size: opts.PoolSize,
		New: func(ctx context.Context) (*pgx.Conn, error) {
			return pgx.Connect(ctx, opts.DSN)
		},
		Ping: func(ctx context.Context, c *pgx.Conn) error {
			return c.Ping(ctx)
		},
		Close: func(c *pgx.Conn) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return c.Close(ctx)
		},
		CheckInterval: opts.CheckInterval,
		StaleAfter:    opts.StaleAfter,
		ProbeTimeout:  opts.ProbeTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Users{conns: conns}, nil
}

func (u *Users) Close() {
	u.conns.Close()
}

const userColumns = `uid, name, email, pwd, nick, "desc", sex, icon`

func scanUser(row pgx.Row) (*User, error) {
	var usr User
	err := row.Scan(&usr.UID, &usr.Name, &usr.Email, &usr.Passwd, &usr.Nick, &usr.Desc, &usr.Sex, &usr.Icon)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &usr, nil
}

func (u *Users) queryUser(ctx context.Context, where string, arg any) (*User, error) {
	var usr *User
	err := u.conns.Do(ctx, func(c *pgx.Conn) error {
		var err error
		usr, err = scanUser(c.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` = $1`, arg))
		return err
	})
	return usr, err
}

func (u *Users) GetUser(ctx context.Context, uid int) (*User, error) {
	return u.queryUser(ctx, "uid", uid)
}

func (u *Users) GetUserByName(ctx context.Context, name string) (*User, error) {
	return u.queryUser(ctx, "name", name)
}

func (u *Users) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.queryUser(ctx, "email", email)
}

// CreateUser stores a new account with a bcrypt hash of passwd.
func (u *Users) CreateUser(ctx context.Context, name, email, passwd string) (int, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	var uid int
	err = u.conns.Do(ctx, func(c *pgx.Conn) error {
		return c.QueryRow(ctx,
			`INSERT INTO users (name, email, pwd, nick) VALUES ($1, $2, $3, $1)
			 ON CONFLICT DO NOTHING RETURNING uid`,
			name, email, string(hash)).Scan(&uid)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserExists
	}
	return uid, err
}

// CheckPassword returns the user registered under email when passwd matches.
func (u *Users) CheckPassword(ctx context.Context, email, passwd string) (*User, error) {
	usr, err := u.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.Passwd), []byte(passwd)); err != nil {
		return nil, ErrPasswordMismatch
	}
	return usr, nil
}

// AddFriendApply records that from asked to befriend to. Repeated
// applications keep the existing row.
func (u *Users) AddFriendApply(ctx context.Context, from, to int) error {
	return u.conns.Do(ctx, func(c *pgx.Conn) error {
		_, err := c.Exec(ctx,
			`INSERT INTO friend_apply (from_uid, to_uid) VALUES ($1, $2)
			 ON CONFLICT (from_uid, to_uid) DO NOTHING`, from, to)
		return err
	})
}

// AuthFriendApply marks the application applicant sent to uid as accepted.
func (u *Users) AuthFriendApply(ctx context.Context, uid, applicant int) error {
	return u.conns.Do(ctx, func(c *pgx.Conn) error {
		_, err := c.Exec(ctx,
			`UPDATE friend_apply SET status = 1 WHERE from_uid = $1 AND to_uid = $2`, applicant, uid)
		return err
	})
}

// AddFriend stores the friendship in both directions in one transaction.
// back is the remark self gives friend.
func (u *Users) AddFriend(ctx context.Context, self, friend int, back string) error {
	return u.conns.Do(ctx, func(c *pgx.Conn) error {
		return pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
			const q = `INSERT INTO friend (self_id, friend_id, back) VALUES ($1, $2, $3)
			           ON CONFLICT (self_id, friend_id) DO NOTHING`
			if _, err := tx.Exec(ctx, q, self, friend, back); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, q, friend, self, "")
			return err
		})
	})
}

// ApplyList returns applications addressed to uid, newest first.
func (u *Users) ApplyList(ctx context.Context, uid int) ([]Apply, error) {
	var list []Apply
	err := u.conns.Do(ctx, func(c *pgx.Conn) error {
		rows, err := c.Query(ctx,
			`SELECT a.from_uid, u.name, u."desc", u.icon, u.nick, u.sex, a.status
			 FROM friend_apply a JOIN users u ON u.uid = a.from_uid
			 WHERE a.to_uid = $1 ORDER BY a.id DESC LIMIT 100`, uid)
		if err != nil {
			return err
		}
		list, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Apply, error) {
			var a Apply
			err := row.Scan(&a.UID, &a.Name, &a.Desc, &a.Icon, &a.Nick, &a.Sex, &a.Status)
			return a, err
		})
		return err
	})
	return list, err
}

func (u *Users) FriendList(ctx context.Context, uid int) ([]User, error) {
	var list []User
	err := u.conns.Do(ctx, func(c *pgx.Conn) error {
		rows, err := c.Query(ctx,
			`SELECT u.uid, u.name, u.email, u.nick, u."desc", u.sex, u.icon, f.back
			 FROM friend f JOIN users u ON u.uid = f.friend_id
			 WHERE f.self_id = $1 ORDER BY u.uid`, uid)
		if err != nil {
			return err
		}
		list, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
			var usr User
			err := row.Scan(&usr.UID, &usr.Name, &usr.Email, &usr.Nick, &usr.Desc, &usr.Sex, &usr.Icon, &usr.Back)
			return usr, err
		})
		return err
	})
	return list, err
}
