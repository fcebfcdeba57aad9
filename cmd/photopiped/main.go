package main

import (
	"context"
	"errors"
	"log"

	"photopipe/internal/daemon"
	"photopipe/internal/daemonrun"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			log.Fatalf("photopiped: %v (lock %s)", err, cfg.LockPath())
		}
		log.Fatalf("photopiped: %v", err)
	}
}
