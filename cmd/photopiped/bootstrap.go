package main

import (
	"os"
	"strings"

	"photopipe/internal/config"
)

// configEnv names an explicit config file for the daemon binary, which takes
// no flags.
const configEnv = "PHOTOPIPE_CONFIG"

func loadConfig() (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(os.Getenv(configEnv)))
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}
