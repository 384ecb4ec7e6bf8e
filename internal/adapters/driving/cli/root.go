// Package cli is the cobra command surface: sync, login, fields and
// version. Commands return wrapped errors; the process exit code is
// mapped in main.
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/auth"
	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/config"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// ErrPreflight marks configuration and connectivity failures detected
// before any portal work starts (exit code 2).
var ErrPreflight = errors.New("preflight failed")

var (
	cfgPath string
	verbose bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "bwb-efatura-docs",
	Short: "Export supplier documents from the eFatura portal to a spreadsheet",
	Long: "bwb-efatura-docs lists the fiscal documents (DFEs) authorised to a " +
		"taxpayer in a date range, fetches each document's XML and appends its " +
		"line items to an Excel table, resuming safely after interruption.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetVerbose(verbose)
		if logFile != "" {
			if _, err := logger.AddFile(logFile); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "bwb-efatura.toml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration file; failures are preflight.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	return cfg, nil
}

// issuerFor picks the OIDC issuer: explicit config first, then derived
// from an overridden IAM host, then the portal default.
func issuerFor(cfg *config.Config) string {
	if cfg.EFatura.Issuer != "" {
		return cfg.EFatura.Issuer
	}
	if cfg.EFatura.IAMBase != "" {
		return strings.TrimRight(cfg.EFatura.IAMBase, "/") + "/auth/realms/taxpayers"
	}
	return auth.DefaultIssuer
}
