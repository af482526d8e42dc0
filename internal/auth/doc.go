// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

// Package auth provides account registration, credential verification and
// bearer tokens for Knowly.
//
// # Components
//
//   - PasswordHasher - Argon2idHasher (default) and BcryptHasher
//   - TokenIssuer - HMAC-signed JWTs carrying the username as subject
//   - Directory - account storage contract, see the memory and postgres packages
//   - Service - Register, Authenticate, Login and Resolve
//
// # Errors
//
// Failures surface as one of a small set of sentinels matched with
// errors.Is: ErrConflict (as *ConflictError naming the field),
// ErrAuthFailure, ErrStorageUnavailable and ErrInvalidInput (as
// *ValidationError). ErrAuthFailure never reveals whether the identifier
// exists, whether the password was wrong, or why a token was rejected.
// Every error returned by Service carries an oops code.
package auth
