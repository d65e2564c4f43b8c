package errcode

// Code is a stable error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Register protocol
	UnknownRegister  Code = "unknown_register"
	ReadOnlyRegister Code = "readonly_register"
	BadCRC           Code = "bad_crc"
	BadLength        Code = "bad_length"
	WrongAddress     Code = "wrong_address"

	// Configuration store
	StaleConfig   Code = "stale_config"
	UnknownField  Code = "unknown_field"
	InvalidParams Code = "invalid_params"

	// Host side
	Timeout     Code = "timeout"
	NotPresent  Code = "not_present"
	VersionSkew Code = "version_skew"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
