package main

import (
	"fmt"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8000"`
	AdminPort            int           `env:"ADMIN_PORT,default=8001"`
	StoreDriver          string        `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH"`
	SQLDsn               string        `env:"SQL_DSN"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	MailboxSize          int           `env:"MAILBOX_SIZE,default=256"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	MaxEnvelopeSize      int64         `env:"MAX_ENVELOPE_SIZE,default=65536"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	CensoredWords        string        `env:"CENSORED_WORDS"`
	CharacterReplacement string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

// CharacterRune parses CHARACTER_REPLACEMENT, which must be exactly one character.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf("CHARACTER_REPLACEMENT must be a single character, got %q", str)
	}
	return r[0], nil
}
