package errprocess

import (
	"errors"
	"fmt"
	"net/http"

	"transcoding_service/pkg/logger"
)

// Kind classify pipeline errors, the worker and the http layer decide by it
type Kind int

const (
	// KindUnknown not classified
	KindUnknown Kind = iota
	// KindTransient queue / storage / database network faults, retried
	KindTransient
	// KindValidation malformed job body or request, never retried
	KindValidation
	// KindTranscode codec failure
	KindTranscode
	// KindNotFound artifact missing
	KindNotFound
	// KindAuth token invalid or verification unreachable
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindTranscode:
		return "transcode"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error typed error with the failing operation
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// New create a typed error
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap wrap err with kind and op
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return New(kind, op, msg)
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf return the outermost kind in err chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient check err kind
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsValidation check err kind
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsTranscode check err kind
func IsTranscode(err error) bool { return KindOf(err) == KindTranscode }

// IsNotFound check err kind
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsAuth check err kind
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// HTTPStatus map err kind to http status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
