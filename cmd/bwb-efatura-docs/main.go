package main

import (
	"errors"
	"os"

	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driving/cli"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

func main() {
	err := cli.Execute()
	if err == nil {
		return
	}
	logger.Error("%v", err)
	switch {
	case errors.Is(err, cli.ErrPreflight):
		os.Exit(2)
	case errors.Is(err, domain.ErrAuthRequired),
		errors.Is(err, domain.ErrAuthExpired),
		errors.Is(err, domain.ErrTokenRefreshFailed):
		os.Exit(3)
	default:
		os.Exit(1)
	}
}
