package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_URL is the websocket address of a running relay, e.g. ws://localhost:8000/.
	// The suite is skipped when it is empty.
	RelayURL  string `envconfig:"RELAY_URL"`
	AdminAddr string `envconfig:"ADMIN_ADDR"`
	// E2E_DEBUG_JSON dumps gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
