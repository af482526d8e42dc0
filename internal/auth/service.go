// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("knowly/auth")

// Constructor errors.
var (
	ErrNilDirectory = oops.Code("AUTH_INVALID_CONFIG").Errorf("directory is required")
	ErrNilHasher    = oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	ErrNilTokens    = oops.Code("AUTH_INVALID_CONFIG").Errorf("token authority is required")
)

// TokenAuthority mints and checks bearer tokens. *TokenIssuer implements it.
type TokenAuthority interface {
	IssueDefault(subject string) (Token, error)
	Validate(token string) (string, error)
}

var _ TokenAuthority = (*TokenIssuer)(nil)

// Service composes the directory, hasher and token authority into the
// register, login and whoami flows.
type Service struct {
	directory Directory
	hasher    PasswordHasher
	tokens    TokenAuthority
	policy    IdentifierPolicy
	logger    *slog.Logger
	now       func() time.Time

	// dummyHash is verified against when an identifier is unknown so both
	// paths do the same hashing work.
	dummyHash string
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithLogger sets the service logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdentifierPolicy overrides DefaultIdentifierPolicy.
func WithIdentifierPolicy(p IdentifierPolicy) ServiceOption {
	return func(s *Service) {
		s.policy = p
	}
}

// WithClock overrides the clock used for account timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service. The hasher is used once here to derive the
// dummy digest for unknown identifiers.
func NewService(directory Directory, hasher PasswordHasher, tokens TokenAuthority, opts ...ServiceOption) (*Service, error) {
	if directory == nil {
		return nil, ErrNilDirectory
	}
	if hasher == nil {
		return nil, ErrNilHasher
	}
	if tokens == nil {
		return nil, ErrNilTokens
	}

	s := &Service{
		directory: directory,
		hasher:    hasher,
		tokens:    tokens,
		policy:    DefaultIdentifierPolicy,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dummy, err := hasher.Hash(ulid.Make().String())
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("operation", "derive dummy hash").Wrap(err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Register validates and stores a new account. Username is checked before
// email; a race lost at the storage layer still yields a *ConflictError.
func (s *Service) Register(ctx context.Context, username, email, password string) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { endSpan(span, err) }()

	username = s.policy.NormalizeUsername(username)
	email = s.policy.NormalizeEmail(email)

	for _, check := range []func() error{
		func() error { return ValidateUsername(username) },
		func() error { return ValidateEmail(email) },
		func() error { return ValidatePassword(password) },
	} {
		if vErr := check(); vErr != nil {
			var ve *ValidationError
			errors.As(vErr, &ve)
			return nil, oops.Code(CodeInvalidInput).With("field", ve.Field).Wrap(vErr)
		}
	}

	if err := s.ensureAvailable(ctx, FieldUsername, username, s.directory.FindByUsername); err != nil {
		return nil, err
	}
	if err := s.ensureAvailable(ctx, FieldEmail, email, s.directory.FindByEmail); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	account = NewAccount(username, email, digest, s.now())
	if err := s.directory.Create(ctx, account); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.InfoContext(ctx, "registration rejected", "username", username, "reason", "conflict", "field", conflict.Field)
		}
		return nil, oops.With("operation", "create account").Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String(), "username", username)
	return account, nil
}

func (s *Service) ensureAvailable(
	ctx context.Context,
	field, value string,
	find func(context.Context, string) (*Account, error),
) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "registration rejected", "reason", "conflict", "field", field)
		return NewConflict(field)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.With("operation", "check "+field+" availability").Wrap(err)
	}
}

// Authenticate verifies a credential proof. An identifier containing "@"
// is looked up as an email, anything else as a username. Unknown
// identifiers and wrong passwords return the same ErrAuthFailure.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.authenticate")
	defer func() { endSpan(span, err) }()

	identifier, kind, lookup := s.resolveIdentifier(identifier)
	span.SetAttributes(attribute.String("auth.identifier_kind", kind))

	account, lookupErr := lookup(ctx, identifier)

	var targetHash string
	switch {
	case lookupErr == nil:
		targetHash = account.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = s.dummyHash
	default:
		return nil, oops.With("operation", "find account by "+kind).Wrap(lookupErr)
	}

	// Always verify so unknown identifiers cost the same as known ones.
	valid := s.hasher.Verify(password, targetHash)

	if lookupErr != nil || !valid {
		reason := "wrong_password"
		if lookupErr != nil {
			reason = "unknown_identifier"
		}
		s.logger.InfoContext(ctx, "authentication failed", "identifier", identifier, "reason", reason)
		return nil, authFailure()
	}

	return account, nil
}

func (s *Service) resolveIdentifier(identifier string) (string, string, func(context.Context, string) (*Account, error)) {
	if IsEmailIdentifier(identifier) {
		return s.policy.NormalizeEmail(identifier), FieldEmail, s.directory.FindByEmail
	}
	return s.policy.NormalizeUsername(identifier), FieldUsername, s.directory.FindByUsername
}

// Login authenticates and issues a token whose subject is the username.
func (s *Service) Login(ctx context.Context, identifier, password string) (Token, error) {
	account, err := s.Authenticate(ctx, identifier, password)
	if err != nil {
		return Token{}, err
	}

	token, err := s.tokens.IssueDefault(account.Username)
	if err != nil {
		return Token{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue token").Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded", "account_id", account.ID.String(), "username", account.Username)
	return token, nil
}

// Resolve returns the account a token was issued to. Any token rejection
// and an orphaned subject both return ErrAuthFailure; storage failures
// propagate unchanged.
func (s *Service) Resolve(ctx context.Context, token string) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.resolve")
	defer func() { endSpan(span, err) }()

	subject, err := s.tokens.Validate(token)
	if err != nil {
		kind := TokenMalformed
		var tokErr *TokenError
		if errors.As(err, &tokErr) {
			kind = tokErr.Kind
		}
		s.logger.InfoContext(ctx, "token rejected", "reason", string(kind))
		return nil, authFailure()
	}

	account, err = s.directory.FindByUsername(ctx, subject)
	if errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "token rejected", "reason", "orphaned_subject", "username", subject)
		return nil, authFailure()
	}
	if err != nil {
		return nil, oops.With("operation", "resolve token subject").Wrap(err)
	}

	return account, nil
}

func authFailure() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrAuthFailure)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrAuthFailure) && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidInput) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
