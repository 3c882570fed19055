package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"voice-ledger-go/internal/logger"
)

func main() {
	log := logger.New()
	log.WithField("service", "callpipe").Debug("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(ctx, afero.NewOsFs(), log).Execute(); err != nil {
		log.WithError(err).Error("callpipe failed")
		stop()
		os.Exit(1)
	}
}
