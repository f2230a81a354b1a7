package beatpulse

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
)

type (
	// DecodeError aborts a load; no session is created.
	DecodeError = audio.DecodeError
	// RenderError fails an analysis; whatever the session already had
	// installed stays in effect.
	RenderError = audio.RenderError
)

var (
	// ErrTransient marks render failures that are retried once.
	ErrTransient = audio.ErrTransient

	ErrNoSession  = errors.New("no track loaded")
	ErrSuperseded = errors.New("track was replaced before analysis finished")
	ErrClosed     = errors.New("pipeline closed")
)

// ConfigurationError reports an invalid pipeline setup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
