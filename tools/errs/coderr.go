package errs

import (
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const (
	ServerInternalError = 500

	InvalidCredentials = 1001
	UserNotFound       = 1002
	MalformedInput     = 1003

	AccessDenied       = 2001
	AmbiguousReference = 2002
	RecordIsExist      = 2003
	SameUsers          = 2004
	RecordNotFound     = 2005
)

var (
	ErrInvalidCredentials = NewCodeError(InvalidCredentials, "invalid credentials")
	ErrUserNotFound       = NewCodeError(UserNotFound, "user not found")
	ErrMalformedInput     = NewCodeError(MalformedInput, "malformed input")

	ErrAccessDenied       = NewCodeError(AccessDenied, "access denied")
	ErrAmbiguousReference = NewCodeError(AmbiguousReference, "exactly one of message_id and call_id must be set")
	ErrorRecordIsExist    = NewCodeError(RecordIsExist, "record already exists")
	ErrSameUsers          = NewCodeError(SameUsers, "sender can not be a recipient")
	ErrRecordNotFound     = NewCodeError(RecordNotFound, "record not found")

	ErrInternal = NewCodeError(ServerInternalError, "server internal error")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap attaches a stack trace to a copy of e.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

func (e *CodeError) WrapMsg(msg string) error {
	retErr := e.clone()
	if msg != "" {
		if retErr.Detail == "" {
			retErr.Detail = msg
		} else {
			retErr.Detail += ", " + msg
		}
	}
	return pkgerrors.WithStack(retErr)
}

// Is reports whether err carries a CodeError with the same code.
func (e *CodeError) Is(err error) bool {
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return err == nil && e == nil
	}
	if e == nil {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code extracts the CodeError code from err, ServerInternalError otherwise.
func Code(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return ServerInternalError
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}
