package cli

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/auth"
	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/config"
	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/ledger"
	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/table"
	"github.com/storesace-cv/bwb-efatura-docs/internal/connectors/efatura"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
	"github.com/storesace-cv/bwb-efatura-docs/internal/core/services"
	"github.com/storesace-cv/bwb-efatura-docs/internal/diag"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

const dateLayout = "2006-01-02"

var (
	syncFrom          string
	syncTo            string
	syncPageSize      int
	syncMaxDocs       int
	syncRewrite       bool
	syncSaveEveryDocs int
	syncSaveEverySecs int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "List, fetch and append documents for a date range",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "range start, YYYY-MM-DD (default: 30 days before --to)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "range end, YYYY-MM-DD (default: today)")
	syncCmd.Flags().IntVar(&syncPageSize, "page-size", 0, "listing page size (default from config)")
	syncCmd.Flags().IntVar(&syncMaxDocs, "max-docs", 0, "stop after processing this many documents")
	syncCmd.Flags().BoolVar(&syncRewrite, "rewrite-existing", false, "reprocess documents already in the table")
	syncCmd.Flags().IntVar(&syncSaveEveryDocs, "save-every-docs", 0, "checkpoint cadence in documents (default from config)")
	syncCmd.Flags().IntVar(&syncSaveEverySecs, "save-every-seconds", 0, "checkpoint cadence in seconds (default from config)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	start, end, err := dateRange(syncFrom, syncTo)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	// 1. DNS preflight. No point opening the table if the portal host
	// does not even resolve.
	if err := checkDNS(cfg); err != nil {
		return err
	}

	// 2. Diagnostics area and token plumbing.
	dc, err := diag.NewContext(cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	provider, err := tokenProvider(cmd, cfg)
	if err != nil {
		return err
	}
	client := efatura.NewClient(provider, clientConfig(cfg), dc)

	// 3. Userinfo preflight: confirms the token works before touching
	// the table. Identity failures other than auth ones only warn.
	if taxID, err := client.UserinfoTaxID(cmd.Context()); err != nil {
		if isAuthErr(err) {
			return err
		}
		logger.Warn("could not identify taxpayer: %v", err)
	} else if taxID != "" {
		logger.Info("authenticated as taxpayer %s", taxID)
	}

	// 4. Open the table (creating or migrating) and its resume ledger.
	store, err := table.Open(cfg.Paths.Table)
	if err != nil {
		return err
	}
	defer store.Close()
	led := ledger.ForTable(cfg.Paths.Table)

	// 5. Run.
	orch := services.NewSyncOrchestrator(client, client, store, led, dc)
	summary, err := orch.Run(cmd.Context(), services.SyncConfig{
		Start:           start,
		End:             end,
		PageSize:        pick(syncPageSize, cfg.EFatura.PageSize),
		MaxDocs:         syncMaxDocs,
		RewriteExisting: syncRewrite,
		SaveEveryDocs:   pick(syncSaveEveryDocs, cfg.Checkpoint.EveryDocs),
		SaveEvery:       time.Duration(pick(syncSaveEverySecs, cfg.Checkpoint.EverySeconds)) * time.Second,
		ProgressEvery:   cfg.Logging.ProgressEveryDocs,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Listed %d documents; added %d (%d rows), skipped %d, %d error rows.\n",
		summary.Listed, summary.DocsAdded, summary.RowsAdded, summary.Skipped, summary.ErrorRows)
	return nil
}

// dateRange resolves the --from/--to flags: --to defaults to today,
// --from to 30 days earlier.
func dateRange(from, to string) (time.Time, time.Time, error) {
	end := time.Now()
	if to != "" {
		var err error
		if end, err = time.Parse(dateLayout, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --to: %w", err)
		}
	}
	start := end.AddDate(0, 0, -30)
	if from != "" {
		var err error
		if start, err = time.Parse(dateLayout, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --from: %w", err)
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s",
			start.Format(dateLayout), end.Format(dateLayout))
	}
	return start, end, nil
}

// checkDNS resolves the portal hosts. The services host is required;
// the IAM host only warns because a cached token may still work.
func checkDNS(cfg *config.Config) error {
	servicesHost := hostOf(cfg.EFatura.ServicesBase, efatura.DefaultServicesBase)
	if _, err := net.LookupHost(servicesHost); err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrPreflight, servicesHost, err)
	}
	iamHost := hostOf(cfg.EFatura.IAMBase, efatura.DefaultIAMBase)
	if _, err := net.LookupHost(iamHost); err != nil {
		logger.Warn("resolving %s: %v", iamHost, err)
	}
	return nil
}

func hostOf(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	if u, err := url.Parse(base); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return base
}

// tokenProvider wires the OIDC discovery, OAuth2 client and token store.
func tokenProvider(cmd *cobra.Command, cfg *config.Config) (*auth.Provider, error) {
	disc, err := auth.Discover(cmd.Context(), issuerFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	oauthCfg := auth.OAuthConfig(disc, cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.RedirectURL, cfg.Auth.Scopes)
	store := auth.NewStore(tokenFilePath(cfg))
	return auth.NewProvider(store, oauthCfg), nil
}

func tokenFilePath(cfg *config.Config) string {
	if cfg.Paths.TokenFile != "" {
		return cfg.Paths.TokenFile
	}
	return filepath.Join(filepath.Dir(cfg.Paths.Table), ".efatura-tokens.json")
}

func clientConfig(cfg *config.Config) efatura.Config {
	return efatura.Config{
		ServicesBase: cfg.EFatura.ServicesBase,
		IAMBase:      cfg.EFatura.IAMBase,
		RepoCode:     cfg.EFatura.RepoCode,
		Timeout:      cfg.Timeout(),
		Retries:      cfg.EFatura.Retries,
		Backoff:      cfg.Backoff(),
	}
}

func pick(flag, fromConfig int) int {
	if flag > 0 {
		return flag
	}
	return fromConfig
}

func isAuthErr(err error) bool {
	return errors.Is(err, domain.ErrAuthRequired) ||
		errors.Is(err, domain.ErrAuthExpired) ||
		errors.Is(err, domain.ErrTokenRefreshFailed)
}
