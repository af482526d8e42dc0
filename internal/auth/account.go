// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// Password validation constraints. The upper bound caps hashing cost.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 1024
)

// MaxEmailLength follows the RFC 5321 path limit.
const MaxEmailLength = 254

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a registered user. It is created once and never mutated.
type Account struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// NewAccount builds an Account with a fresh ID. Inputs must already be
// validated and normalised.
func NewAccount(username, email, passwordHash string, now time.Time) *Account {
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now.UTC().Truncate(time.Microsecond),
	}
}

// IdentifierPolicy decides how usernames and emails are compared.
// A folded field is lower-cased before both storage and lookup.
type IdentifierPolicy struct {
	FoldUsername bool
	FoldEmail    bool
}

// DefaultIdentifierPolicy keeps usernames case-sensitive and folds emails.
var DefaultIdentifierPolicy = IdentifierPolicy{FoldUsername: false, FoldEmail: true}

// NormalizeUsername applies the username policy.
func (p IdentifierPolicy) NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if p.FoldUsername {
		return strings.ToLower(username)
	}
	return username
}

// NormalizeEmail applies the email policy.
func (p IdentifierPolicy) NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if p.FoldEmail {
		return strings.ToLower(email)
	}
	return email
}

// IsEmailIdentifier reports whether a login identifier names an email.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return &ValidationError{Field: FieldUsername, Reason: "cannot be empty"}
	case len(username) < MinUsernameLength:
		return &ValidationError{Field: FieldUsername, Reason: "too short"}
	case len(username) > MaxUsernameLength:
		return &ValidationError{Field: FieldUsername, Reason: "too long"}
	case !usernameRegex.MatchString(username):
		return &ValidationError{
			Field:  FieldUsername,
			Reason: "must start with a letter and contain only letters, numbers, and underscores",
		}
	}
	return nil
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: FieldEmail, Reason: "cannot be empty"}
	}
	if len(email) > MaxEmailLength {
		return &ValidationError{Field: FieldEmail, Reason: "too long"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return &ValidationError{Field: FieldEmail, Reason: "not a valid address"}
	}
	return nil
}

// ValidatePassword checks password length bounds.
func ValidatePassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return &ValidationError{Field: FieldPassword, Reason: "too short"}
	case len(password) > MaxPasswordLength:
		return &ValidationError{Field: FieldPassword, Reason: "too long"}
	}
	return nil
}
