// Package apperr 定义业务错误类型，并统一映射到 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind uint8

const (
	Unknown Kind = iota
	Invalid
	Conflict
	NotFound
	Expired
	Unauthorized
	Forbidden
	Unavailable
	Internal
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case Conflict:
		return "Conflict"
	case NotFound:
		return "NotFound"
	case Expired:
		return "Expired"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// HTTPStatus 返回错误类型对应的状态码，冲突按 400 返回
func (k Kind) HTTPStatus() int {
	switch k {
	case Invalid, Conflict:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Expired:
		return http.StatusGone
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error 携带操作名和错误类型
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// E 包装错误；err 为 nil 时返回 nil
func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// New 使用消息创建错误
func New(op string, kind Kind, msg string) error {
	return &Error{Op: op, Kind: kind, Err: errors.New(msg)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 返回最外层的错误类型，未包装的错误视为 Internal
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Unknown {
			return KindOf(e.Err)
		}
		return e.Kind
	}
	return Internal
}

// Is 判断错误是否属于指定类型
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message 返回最内层的可读信息，不带操作名前缀
func Message(err error) string {
	var e *Error
	for errors.As(err, &e) {
		err = e.Err
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
