package errcode

import (
	"errors"
	"fmt"
)

// Kind 对应错误分类，决定 handler 如何向用户呈现。
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindRemoteBackend Kind = "remote_backend"
	KindStorageIO     Kind = "storage_io"
)

// Error 是带分类与错误码的业务错误。
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, &Error{Kind: ...}) 按分类匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrRemoteBackend = &Error{Kind: KindRemoteBackend}
	ErrStorageIO     = &Error{Kind: KindStorageIO}
)

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: InvalidInput, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: ResourceMissing, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: Forbidden, Message: msg}
}

func Conflicting(msg string) *Error {
	return &Error{Kind: KindConflict, Code: Conflict, Message: msg}
}

func Remote(msg string, err error) *Error {
	return &Error{Kind: KindRemoteBackend, Code: RemoteDegraded, Message: msg, Err: err}
}

func Storage(msg string, err error) *Error {
	return &Error{Kind: KindStorageIO, Code: StorageFailure, Message: msg, Err: err}
}

// KindOf 返回错误链中第一个 *Error 的分类；非业务错误返回空字符串。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf 返回适合展示给用户的错误信息。
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
