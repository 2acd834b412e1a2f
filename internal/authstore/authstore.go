// Package authstore is the one persistent corner of an otherwise
// in-memory server: an admin/user password directory that must
// survive a restart even though job and printer state does not (spec
// §1's "implementing a spooler queue across reboots" non-goal names
// jobs, not accounts). Adapted from the teacher's internal/store
// (Open/WithTx/migrate shape) and internal/store/password.go
// (hashPassword/checkPassword/digestHA1), narrowed to a single users
// table since printers/jobs/subscriptions/resources moved to
// internal/registry's in-memory maps.
package authstore

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	"golang.org/x/crypto/bcrypt"
)

// Realm is the HTTP digest realm advertised alongside basic auth,
// matching the teacher's authRealm/digestRealm constant.
const Realm = "ippsample"

// ErrNotFound is returned when a username has no directory entry.
var ErrNotFound = errors.New("authstore: user not found")

// ErrBadPassword is returned when a password check fails.
var ErrBadPassword = errors.New("authstore: bad password")

// User is one directory entry.
type User struct {
	Username     string
	PasswordHash string
	DigestHA1    string
	IsAdmin      bool
}

// Store owns the sqlite-backed users table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and runs
// its migration.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		digest_ha1 TEXT NOT NULL DEFAULT '',
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	return err
}

// CreateUser inserts or replaces a directory entry, hashing password
// with bcrypt and precomputing its HTTP digest HA1.
func (s *Store) CreateUser(ctx context.Context, username, password string, isAdmin bool) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	ha1 := digestHA1(username, password)
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (username, password_hash, digest_ha1, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash=excluded.password_hash, digest_ha1=excluded.digest_ha1, is_admin=excluded.is_admin, updated_at=excluded.updated_at`,
		strings.ToLower(username), string(hash), ha1, boolToInt(isAdmin), now, now)
	return err
}

// Lookup fetches a directory entry by username.
func (s *Store) Lookup(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT username, password_hash, digest_ha1, is_admin FROM users WHERE username = ?`, strings.ToLower(username))
	var u User
	var isAdmin int
	if err := row.Scan(&u.Username, &u.PasswordHash, &u.DigestHA1, &isAdmin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.IsAdmin = isAdmin != 0
	return u, nil
}

// Authenticate checks password against the stored bcrypt hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := s.Lookup(ctx, username)
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrBadPassword
	}
	return u, nil
}

func digestHA1(username, password string) string {
	sum := md5.Sum([]byte(username + ":" + Realm + ":" + password))
	return hex.EncodeToString(sum[:])
}

// NewNonce generates a random digest-auth nonce, mirroring the
// teacher's nonceSecret-seeded generator in internal/server/auth.go.
func NewNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(buf)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
