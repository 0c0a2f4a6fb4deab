// Package credentials holds the gateway's user accounts and the keys it uses
// to reach the bucket.
//
// Accounts come from a comma separated passwd file with one
// "username,password,admin" row per user. An admin flag of "y" (any case)
// grants bucket-wide access.
package credentials

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Account is a single passwd entry.
type Account struct {
	Username string
	Password string
	Admin    bool
}

// Store is an immutable username to account map. It is safe for concurrent
// use once built.
type Store struct {
	accounts map[string]Account
	mode     HashMode
}

// Option configures Parse.
type Option func(*parseOptions)

type parseOptions struct {
	mode   HashMode
	logger *slog.Logger
}

// WithHashMode sets how stored passwords are compared.
func WithHashMode(mode HashMode) Option {
	return func(o *parseOptions) { o.mode = mode }
}

// WithLogger sets the logger that reports skipped rows.
func WithLogger(logger *slog.Logger) Option {
	return func(o *parseOptions) { o.logger = logger }
}

// Parse reads passwd rows. Rows with fewer than two fields are skipped and a
// later row for the same username replaces an earlier one. Usernames and
// passwords are taken verbatim, whitespace included.
func Parse(r io.Reader, opts ...Option) (*Store, error) {
	o := parseOptions{mode: HashPlain, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	s := &Store{accounts: make(map[string]Account), mode: o.mode}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse passwd: %w", err)
		}
		if len(rec) < 2 || rec[0] == "" {
			line, _ := cr.FieldPos(0)
			o.logger.Warn("skipping passwd row", "line", line, "fields", len(rec))
			continue
		}
		acct := Account{Username: rec[0], Password: rec[1]}
		if len(rec) > 2 {
			acct.Admin = strings.EqualFold(strings.TrimSpace(rec[2]), "y")
		}
		s.accounts[acct.Username] = acct
	}
	return s, nil
}

// Authenticate reports whether the username exists and the password matches.
func (s *Store) Authenticate(username, password string) bool {
	acct, ok := s.accounts[username]
	if !ok {
		return false
	}
	return VerifyPassword(s.mode, password, acct.Password)
}

// IsAdmin reports whether the username exists and carries the admin flag.
func (s *Store) IsAdmin(username string) bool {
	return s.accounts[username].Admin
}

// Lookup returns the account for username.
func (s *Store) Lookup(username string) (Account, bool) {
	acct, ok := s.accounts[username]
	return acct, ok
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	return len(s.accounts)
}
