package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/storesace-cv/bwb-efatura-docs/internal/connectors/efatura"
	"github.com/storesace-cv/bwb-efatura-docs/internal/diag"
)

var (
	fieldsFrom string
	fieldsTo   string
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Show the field names the listing endpoint returns",
	Long: "fields requests the first listing page for a date range and prints " +
		"the response's top-level keys and the keys of the first item, for " +
		"exploring what the portal currently exposes.",
	RunE: runFields,
}

func init() {
	fieldsCmd.Flags().StringVar(&fieldsFrom, "from", "", "range start, YYYY-MM-DD (default: 30 days before --to)")
	fieldsCmd.Flags().StringVar(&fieldsTo, "to", "", "range end, YYYY-MM-DD (default: today)")
	rootCmd.AddCommand(fieldsCmd)
}

func runFields(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	start, end, err := dateRange(fieldsFrom, fieldsTo)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	dc, err := diag.NewContext(cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	provider, err := tokenProvider(cmd, cfg)
	if err != nil {
		return err
	}
	client := efatura.NewClient(provider, clientConfig(cfg), dc)

	topLevel, firstItem, err := client.PageKeys(cmd.Context(), start, end, cfg.EFatura.PageSize)
	if err != nil {
		return err
	}

	printKeys("Top-level keys", topLevel)
	printKeys("First item keys", firstItem)
	return nil
}

func printKeys(title string, keys []string) {
	fmt.Printf("%s (%d):\n", title, len(keys))
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s\n", k)
	}
}
