// Package vprocerr provides the error taxonomy shared by every vproc
// component: a small numeric code in the same family as POSIX errno values,
// wrapped so that a stack trace survives up to whatever top-level handler
// wants to log it.
//
// adapted from lazydocker's pkg/commands/errors.go ComplexError/WrapError
package vprocerr

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// Numeric codes mirror the POSIX errno values this runtime surfaces to
// callers. We don't alias syscall.EBADF etc directly because this package
// must build and behave identically on hosts where those constants differ.
const (
	EBADF        = 9
	EINVAL       = 22
	ENAMETOOLONG = 36
	EIO          = 5
	ENXIO        = 6
	ENOSPC       = 28
	EPERM        = 1
	ESRCH        = 3
	EAGAIN       = 11
)

var codeNames = map[int]string{
	EBADF:        "EBADF",
	EINVAL:       "EINVAL",
	ENAMETOOLONG: "ENAMETOOLONG",
	EIO:          "EIO",
	ENXIO:        "ENXIO",
	ENOSPC:       "ENOSPC",
	EPERM:        "EPERM",
	ESRCH:        "ESRCH",
	EAGAIN:       "EAGAIN",
}

// Errno is an error which carries a code so that calling code at a shim
// boundary has an easy time mapping back onto a -1/errno return.
type Errno struct {
	Code    int
	Message string
	frame   xerrors.Frame
}

// New builds an Errno, capturing the caller's frame for later formatting.
func New(code int, message string) *Errno {
	return &Errno{Code: code, Message: message, frame: xerrors.Caller(1)}
}

// Errorf is like New but with fmt.Sprintf-style formatting of the message.
func Errorf(code int, format string, args ...interface{}) *Errno {
	return &Errno{Code: code, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

func (e *Errno) Error() string {
	name, ok := codeNames[e.Code]
	if !ok {
		name = fmt.Sprintf("errno=%d", e.Code)
	}
	return fmt.Sprintf("%s: %s", name, e.Message)
}

// Errno satisfies the interface shim callers use to recover the raw code.
func (e *Errno) Errno() int { return e.Code }

// FormatError lets xerrors.Printer render the frame alongside the message.
func (e *Errno) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.frame.Format(p)
	return nil
}

// Is lets errors.Is match two Errnos with the same code.
func (e *Errno) Is(target error) bool {
	other, ok := target.(*Errno)
	return ok && other.Code == e.Code
}

// CodeOf extracts the numeric code from err if it (or something it wraps)
// is an *Errno, returning ok=false otherwise.
func CodeOf(err error) (int, bool) {
	var en *Errno
	if xerrors.As(err, &en) {
		return en.Code, true
	}
	return 0, false
}

// WrapError wraps an error for the sake of preserving a stack trace at the
// top level. go-errors, for some reason, does not return nil when asked to
// wrap a non-error, so we guard for that here.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}
