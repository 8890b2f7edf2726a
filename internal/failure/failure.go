package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	Provider         Kind = "ProviderError"
	MalformedPayload Kind = "MalformedPayload"
	MissingField     Kind = "MissingField"
	IO               Kind = "IOError"
)

// Error is the structured failure record handed back to callers. Raw always
// holds the model's full response text when one was received.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"status,omitempty"`
	Payload string `json:"payload,omitempty"`
	Raw     string `json:"raw_response,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Providerf builds a ProviderError. status is the HTTP status, 0 for transport failures.
func Providerf(status int, err error, format string, args ...any) *Error {
	return &Error{Kind: Provider, Status: status, Message: fmt.Sprintf(format, args...), Err: err}
}

// Malformed builds a MalformedPayload error for payload.
func Malformed(payload string, err error) *Error {
	msg := "payload is not valid JSON"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: MalformedPayload, Message: msg, Payload: payload, Err: err}
}

// Missing builds a MissingField error naming field.
func Missing(field, payload string) *Error {
	return &Error{
		Kind:    MissingField,
		Field:   field,
		Message: "missing required field: " + field,
		Payload: payload,
	}
}

// IOf builds an IOError.
func IOf(err error, format string, args ...any) *Error {
	return &Error{Kind: IO, Message: fmt.Sprintf(format, args...), Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf reports the Kind of err, or "" when err is not a classified failure.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a classified failure of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Attach records raw as the model response on err. Unclassified errors are
// wrapped as ProviderError so nothing reaches the caller without a kind.
func Attach(err error, raw string) error {
	if err == nil {
		return nil
	}
	fe, ok := As(err)
	if !ok {
		fe = &Error{Kind: Provider, Message: "completion failed", Err: err}
	}
	if fe.Raw == "" {
		fe.Raw = raw
	}
	return fe
}
