// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// MinSecretLength is the shortest accepted signing secret in bytes.
const MinSecretLength = 32

// DefaultTokenTTL is the access token lifetime when none is configured.
const DefaultTokenTTL = 60 * time.Minute

// MinTokenTTL is the shortest configurable lifetime. exp is carried in
// whole seconds, so anything shorter can be expired on arrival.
const MinTokenTTL = time.Second

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "bearer"

// Token is an issued access token.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// TokenOptions configures a TokenIssuer.
type TokenOptions struct {
	// Secret is the HMAC key shared by every token of the process.
	Secret []byte
	// Algorithm is one of HS256, HS384, HS512. Empty means HS256.
	Algorithm string
	// TTL is the lifetime used by IssueDefault.
	TTL time.Duration
	// Issuer, when set, is written to and required in the iss claim.
	Issuer string
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// TokenIssuer mints and validates signed, time-limited bearer tokens.
// It is immutable after construction and safe for concurrent use.
type TokenIssuer struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenIssuer validates opts and returns a TokenIssuer.
func NewTokenIssuer(opts TokenOptions) (*TokenIssuer, error) {
	if len(opts.Secret) < MinSecretLength {
		return nil, oops.Code("AUTH_INVALID_TOKEN_CONFIG").
			With("min_length", MinSecretLength).
			Errorf("token secret must be at least %d bytes", MinSecretLength)
	}

	method, err := signingMethod(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < MinTokenTTL {
		return nil, oops.Code("AUTH_INVALID_TOKEN_CONFIG").
			With("ttl", ttl.String()).
			Errorf("token ttl must be at least %s", MinTokenTTL)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}

	secret := make([]byte, len(opts.Secret))
	copy(secret, opts.Secret)

	return &TokenIssuer{
		secret: secret,
		method: method,
		ttl:    ttl,
		issuer: opts.Issuer,
		now:    now,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

func signingMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, oops.Code("AUTH_INVALID_TOKEN_CONFIG").
			With("algorithm", alg).
			Errorf("unsupported token algorithm: %s", alg)
	}
}

// TTL returns the default token lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for subject that expires ttl from now.
func (i *TokenIssuer) Issue(subject string, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, oops.Code("AUTH_TOKEN_ISSUE_FAILED").Errorf("token subject cannot be empty")
	}

	now := i.now()
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: expiresAt,
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("subject", subject).Wrap(err)
	}

	return Token{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresAt:   expiresAt.Time,
	}, nil
}

// IssueDefault signs a token for subject with the configured TTL.
func (i *TokenIssuer) IssueDefault(subject string) (Token, error) {
	return i.Issue(subject, i.ttl)
}

// Validate checks the signature, then expiry, and returns the subject.
// Rejections are *TokenError values matching ErrTokenMalformed,
// ErrTokenBadSignature or ErrTokenExpired.
func (i *TokenIssuer) Validate(token string) (string, error) {
	if token == "" {
		return "", &TokenError{Kind: TokenMalformed}
	}

	claims := &jwt.RegisteredClaims{}
	_, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		kind := classifyJWTError(err)
		if kind == TokenMalformed && i.signatureSegmentOnly(token) {
			kind = TokenBadSignature
		}
		return "", &TokenError{Kind: kind, Err: err}
	}

	if claims.Subject == "" {
		return "", &TokenError{Kind: TokenMalformed, Err: errors.New("missing subject")}
	}

	return claims.Subject, nil
}

// signatureSegmentOnly reports whether header and claims parse on their
// own, which places a decode failure in the signature segment.
func (i *TokenIssuer) signatureSegmentOnly(token string) bool {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return false
	}
	_, _, err := i.parser.ParseUnverified(parts[0]+"."+parts[1]+".", &jwt.RegisteredClaims{})
	return err == nil
}

// classifyJWTError folds jwt's error tree into the closed rejection set.
func classifyJWTError(err error) TokenErrorKind {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return TokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return TokenBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	default:
		return TokenMalformed
	}
}
