package app

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging points the global logger at stderr and, unless running under
// systemd, at a rotating log file as well. The returned closer closes the
// file and is never nil.
func SetupLogging(level, logFile string) io.Closer {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}

	// JOURNAL_STREAM is set by systemd; journald keeps the log there.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd || logFile == "" {
		log.Logger = log.Output(consoleWriter)
		return io.NopCloser(nil)
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	}
	fileWriter := zerolog.ConsoleWriter{Out: rotating, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	return rotating
}
