package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind 交易所错误分类。
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindRateLimited
	KindNetwork
	KindRejected
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error 携带分类的网关错误，可用 errors.As 取出。
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf 构造分类错误。
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap err 为 nil 时返回 nil。
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf 非网关错误返回 KindUnknown。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
