// Package common holds the types shared across every ViperDOS subsystem:
// the error taxonomy (§6.3, §7) and the stable structures exchanged with
// user space (§6.2). Subsystem packages (cap, kobj, ipc, proc, assign,
// syscall) all import common rather than redeclaring these.
package common

import "fmt"

// Err is a ViperDOS kernel error code. It implements the error interface so
// internal APIs use the normal Go (value, error) idiom; the syscall layer
// converts a nil/non-nil error into the signed ABI return value described in
// spec §6.3 ("negative values are errors, non-negative is success").
type Err int32

// ErrOK is never returned as an error value (success is reported as a nil
// error); it exists so the numeric code table matches spec §6.3's VOK entry.
const ErrOK Err = 0

const (
	ErrInvalidHandle Err = -(iota + 1)
	ErrInvalidArg
	ErrWouldBlock
	ErrChannelClosed
	ErrMsgTooLarge
	ErrOutOfMemory
	ErrNotFound
	ErrNotSupported
	ErrPermission
	ErrIO
	ErrUnknown
)

var names = map[Err]string{
	ErrInvalidHandle: "invalid handle",
	ErrInvalidArg:    "invalid argument",
	ErrWouldBlock:    "would block",
	ErrChannelClosed: "channel closed",
	ErrMsgTooLarge:   "message too large",
	ErrOutOfMemory:   "out of memory",
	ErrNotFound:      "not found",
	ErrNotSupported:  "not supported",
	ErrPermission:    "permission denied",
	ErrIO:            "i/o error",
	ErrUnknown:       "unknown error",
}

// Error implements the error interface.
func (e Err) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("err(%d)", int32(e))
}

// Code returns the negative ABI code a syscall handler packs into its
// result register for this error, per spec §6.3.
func (e Err) Code() int64 {
	return int64(e)
}

// FromError maps a Go error produced by a core package back to its Err
// code for the syscall ABI boundary. Unrecognized errors become
// ErrUnknown rather than escaping the syscall boundary, per §7's "no
// exceptions/panics escape a syscall boundary" rule.
func FromError(err error) Err {
	if err == nil {
		return ErrOK
	}
	if e, ok := err.(Err); ok {
		return e
	}
	return ErrUnknown
}

// ResultCode packs (value, err) into the single signed return register
// described by §6.3: non-negative is success, negative is the error code.
func ResultCode(value int64, err error) int64 {
	if err != nil {
		return FromError(err).Code()
	}
	return value
}
