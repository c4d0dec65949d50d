package initialize

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/backend/config"
	"autojs-hub/backend/global"
)

func init() {
	// usable before the config is read
	global.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// InitLogger builds the process logger from cfg and stores it in global.Logger.
func InitLogger(cfg config.Log, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	SetLevel(cfg.Level)
	logger := zerolog.New(out).With().Timestamp().Str("service", "autojs-hub").Logger()
	global.Logger = logger
	return logger
}

// SetLevel changes the global log level; unknown levels fall back to info.
func SetLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}
