// Package obslog bootstraps the process-wide zerolog logger, mirroring
// the teacher's cmd/cryptorun/main.go bootstrap: RFC3339 timestamps, a
// console writer for local/dev use, and a JSON writer for production.
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs the global zerolog logger per the given level/format
// strings (see config.LogConfig). Unknown levels fall back to info;
// unknown formats fall back to console, matching the teacher's
// permissive bootstrap rather than failing startup over a typo.
func Init(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}
