package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger returns a child of the process logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
