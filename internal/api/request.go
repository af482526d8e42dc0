// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/knowly/knowly/internal/auth"
)

var (
	requestModifier = modifiers.New()
	requestValidate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Username string `json:"username" mod:"trim" validate:"required"`
	Email    string `json:"email" mod:"trim" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// loginRequest follows the OAuth2 password grant: username carries either
// a username or an email address.
type loginRequest struct {
	Username string `json:"username" mod:"trim" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func invalidInput(field, reason string) error {
	return oops.Code(auth.CodeInvalidInput).
		With("field", field).
		Wrap(&auth.ValidationError{Field: field, Reason: reason})
}

func parseRegister(r *http.Request) (*registerRequest, error) {
	req := &registerRequest{}
	if err := decodeJSON(r, req); err != nil {
		return nil, err
	}
	return req, shape(r, req)
}

func parseLogin(r *http.Request) (*loginRequest, error) {
	req := &loginRequest{}
	if isJSON(r) {
		if err := decodeJSON(r, req); err != nil {
			return nil, err
		}
	} else {
		r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, invalidInput("body", "malformed form body")
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}
	return req, shape(r, req)
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get(headerContentType))
	return err == nil && mediaType == contentTypeJSON
}

func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalidInput("body", "request body too large")
		}
		return invalidInput("body", "malformed JSON body")
	}
	return nil
}

// shape trims then validates a request struct.
func shape(r *http.Request, req any) error {
	if err := requestModifier.Struct(r.Context(), req); err != nil {
		return oops.Code("API_REQUEST_MODIFY_FAILED").Wrap(err)
	}

	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := "is required"
		if fe.Tag() != "required" {
			reason = fmt.Sprintf("failed %q validation", fe.Tag())
		}
		return invalidInput(fe.Field(), reason)
	}
	return oops.Code("API_REQUEST_VALIDATE_FAILED").Wrap(err)
}
