// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierr defines the service error kinds and their HTTP
// rendering.
//
// Every error that crosses the API boundary is classified into a Kind.
// Handlers render `{error: {kind, message}}` with the status mapped
// from the kind; anything unclassified renders as `internal`. The
// package also provides colored terminal formatting for CLI use.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
)

// Kind classifies an error for API consumers.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindUnauthorizedLLM Kind = "unauthorized_llm"
	KindRateLimitedLLM  Kind = "rate_limited_llm"
	KindRateLimitedHost Kind = "rate_limited_host"
	KindLLMFailure      Kind = "llm_failure"
	KindInternal        Kind = "internal"
)

// HTTPStatus maps a kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput, KindUnauthorizedLLM:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimitedLLM, KindRateLimitedHost, KindLLMFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind, a human-readable message, and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors
// are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf extracts the user-facing message from an error chain.
// Unclassified errors get a generic message so internals do not leak.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// Body is the JSON error envelope.
type Body struct {
	Error Payload `json:"error"`
}

// Payload is the inner kind/message pair.
type Payload struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// BodyOf builds the JSON envelope for an error chain.
func BodyOf(err error) Body {
	return Body{Error: Payload{Kind: KindOf(err), Message: MessageOf(err)}}
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorKind  = color.New(color.FgYellow)
)

// Format renders the error for terminal display, in the CLI ingest
// path. Respects NO_COLOR.
func Format(err error, noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()
	if noColor {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(MessageOf(err))
	out.WriteString("\n")
	if kind := KindOf(err); kind != KindInternal {
		out.WriteString(colorKind.Sprint("Kind:  "))
		out.WriteString(string(kind))
		out.WriteString("\n")
	}
	return out.String()
}
