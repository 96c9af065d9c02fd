// Package apperr defines the typed failures surfaced to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindParse          Kind = "parse"
	KindNotFound       Kind = "not_found"
	KindFilesystem     Kind = "filesystem"
	KindPartialInstall Kind = "partial_install"
	KindConflict       Kind = "conflict"
	KindUnknown        Kind = "unknown"
)

var (
	ErrNetwork        = errors.New("network failure")
	ErrParse          = errors.New("parse failure")
	ErrNotFound       = errors.New("not found")
	ErrFilesystem     = errors.New("filesystem failure")
	ErrPartialInstall = errors.New("partial install")
	ErrConflict       = errors.New("conflict")
)

var sentinels = map[Kind]error{
	KindNetwork:        ErrNetwork,
	KindParse:          ErrParse,
	KindNotFound:       ErrNotFound,
	KindFilesystem:     ErrFilesystem,
	KindPartialInstall: ErrPartialInstall,
	KindConflict:       ErrConflict,
}

// Error carries the kind, the failing operation and the uuid involved.
type Error struct {
	Kind Kind
	Op   string
	UUID string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.UUID != "" {
		msg += " " + e.UUID
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New builds a typed error.
func New(kind Kind, op, uuid string, err error) *Error {
	return &Error{Kind: kind, Op: op, UUID: uuid, Err: err}
}

func Network(op, uuid string, err error) error    { return New(KindNetwork, op, uuid, err) }
func Parse(op, uuid string, err error) error      { return New(KindParse, op, uuid, err) }
func NotFound(op, uuid string) error              { return New(KindNotFound, op, uuid, nil) }
func Filesystem(op, uuid string, err error) error { return New(KindFilesystem, op, uuid, err) }
func Partial(op, uuid string, err error) error    { return New(KindPartialInstall, op, uuid, err) }

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}
