package audio

import (
	"errors"
	"fmt"
)

// ErrTransient marks a failure worth retrying, e.g. an external tool that
// timed out.
var ErrTransient = errors.New("transient failure")

// DecodeError reports input that could not be turned into a Buffer.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RenderError reports a failure of the offline filter pipeline.
type RenderError struct {
	Renderer string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render (%s): %v", e.Renderer, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is marked as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
