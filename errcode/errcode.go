// Package errcode names the failure kinds the radio roles log and match on.
package errcode

import "errors"

// Code identifies a failure kind. Codes compare with == and are errors
// themselves, so a bare Code can be returned where no context is needed.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidPayload Code = "invalid_payload"
	Timeout        Code = "timeout"

	// Radio link and GATT failures. Each wraps the radio stack's own error.
	Encryption Code = "encryption"
	Connect    Code = "connect"
	Discovery  Code = "discovery"
	Write      Code = "write"
	Read       Code = "read"
	Advertise  Code = "advertise"
	Notify     Code = "notify"
	Indicate   Code = "indicate"
	SetValue   Code = "set_value"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause next to a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap attaches a code and operation name to a radio-stack error.
// A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// DiscoveryFailed reports a discovery failure. The cause is dropped on purpose:
// every discovery sub-error collapses to the one kind.
func DiscoveryFailed(op string) error {
	return &E{C: Discovery, Op: op}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// Is reports whether err carries code c.
func Is(err error, c Code) bool { return Of(err) == c }
