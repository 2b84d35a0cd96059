// Package store holds registered identities and checks their credentials.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chatrelay/internal/chat"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrInvalidUsername   = errors.New("username must be at least 3 characters long")
	ErrInvalidPassword   = errors.New("password must be at least 6 characters long, contain one uppercase letter and one number")
	ErrUnknownUsername   = errors.New("unknown username")
	ErrWrongPassword     = errors.New("wrong password")
	ErrUnknownIdentity   = errors.New("unknown identity")
)

const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

type Identity struct {
	ID           string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Public strips the credential for use by the realtime layer.
func (i Identity) Public() chat.Identity {
	return chat.Identity{ID: i.ID, DisplayName: i.DisplayName}
}

// Store 是凭据目录。实现必须可并发调用：HTTP handler 与网关握手会同时访问。
type Store interface {
	Register(ctx context.Context, username, password string) (Identity, error)
	Verify(ctx context.Context, username, password string) (Identity, error)
	Lookup(ctx context.Context, identityID string) (Identity, error)
}

// ValidateUsername returns the trimmed username.
func ValidateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if utf8.RuneCountInString(name) < MinUsernameLength {
		return "", ErrInvalidUsername
	}
	return name, nil
}

func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrInvalidPassword
	}
	var upper, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	if !upper || !digit {
		return ErrInvalidPassword
	}
	return nil
}
