// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fault defines the tagged error kinds shared by every component of
// the task core. Callers branch on kinds with errors.Is against the sentinels
// or with KindOf.
package fault

import (
	"errors"
	"strings"
)

// Kind tags an error with its recovery class.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindAuthentication      Kind = "authentication"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNetworkTransient    Kind = "network_transient"
	KindLLMMalformed        Kind = "llm_malformed"
	KindMediaDecode         Kind = "media_decode"
	KindAPIKeyMissing       Kind = "api_key_missing"
	KindBillingDeferred     Kind = "billing_deferred"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal"
)

// Sentinels, one per kind.
var (
	ErrInvalidInput        = &sentinel{KindInvalidInput, "invalid input"}
	ErrAuthentication      = &sentinel{KindAuthentication, "authentication required"}
	ErrInsufficientBalance = &sentinel{KindInsufficientBalance, "insufficient balance"}
	ErrNetworkTransient    = &sentinel{KindNetworkTransient, "transient network error"}
	ErrLLMMalformed        = &sentinel{KindLLMMalformed, "malformed llm response"}
	ErrMediaDecode         = &sentinel{KindMediaDecode, "media decode failed"}
	ErrAPIKeyMissing       = &sentinel{KindAPIKeyMissing, "api key missing"}
	ErrBillingDeferred     = &sentinel{KindBillingDeferred, "billing deferred"}
	ErrCancelled           = &sentinel{KindCancelled, "cancelled"}
	ErrInternal            = &sentinel{KindInternal, "internal error"}
)

type sentinel struct {
	kind Kind
	msg  string
}

func (s *sentinel) Error() string { return s.msg }

// Error is the wrapping error carried across component boundaries.
type Error struct {
	Kind   Kind
	Op     string // component operation, e.g. "ledger.consume"
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Detail != "":
		b.WriteString(e.Detail)
		if e.Err != nil {
			b.WriteString(": ")
			b.WriteString(e.Err.Error())
		}
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(sentinelFor(e.Kind).msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

// New builds a kinded error without a cause.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with a detail message.
func Wrapf(kind Kind, op, detail string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf reports the kind of the outermost kinded error in err's chain.
// Bare sentinels count. Anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return KindInternal
}

// Retriable reports whether the operation that produced err may be retried.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindNetworkTransient, KindLLMMalformed:
		return true
	default:
		return false
	}
}

// UserCode maps an error to the short code surfaced in the UI.
func UserCode(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindAPIKeyMissing:
		return "填写key"
	default:
		return string(KindOf(err))
	}
}

func sentinelFor(kind Kind) *sentinel {
	switch kind {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindAuthentication:
		return ErrAuthentication
	case KindInsufficientBalance:
		return ErrInsufficientBalance
	case KindNetworkTransient:
		return ErrNetworkTransient
	case KindLLMMalformed:
		return ErrLLMMalformed
	case KindMediaDecode:
		return ErrMediaDecode
	case KindAPIKeyMissing:
		return ErrAPIKeyMissing
	case KindBillingDeferred:
		return ErrBillingDeferred
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrInternal
	}
}
