package nostr

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is used by everything in this package. It only shows warnings and errors by default,
// call SetLogger or change its level to see more.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Str("lib", "nostrpool").Logger().Level(zerolog.WarnLevel)

func SetLogger(l zerolog.Logger) { Logger = l }

func debugLogf(str string, args ...any) {
	Logger.Debug().Msgf(str, args...)
}
