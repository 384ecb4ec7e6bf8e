package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storesace-cv/bwb-efatura-docs/internal/adapters/driven/auth"
	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize against the eFatura identity provider",
	Long: "login prints the portal authorization URL, waits for the code the " +
		"portal shows after you approve access, and stores the resulting " +
		"tokens for later sync runs.",
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	disc, err := auth.Discover(cmd.Context(), issuerFor(cfg))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPreflight, err)
	}
	oauthCfg := auth.OAuthConfig(disc, cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.RedirectURL, cfg.Auth.Scopes)

	login := auth.NewLogin(oauthCfg)
	fmt.Println("Open this URL in a browser and authorize access:")
	fmt.Println()
	fmt.Println("  " + login.AuthURL())
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("no authorization code entered")
	}

	tok, err := login.Exchange(cmd.Context(), code)
	if err != nil {
		return err
	}

	store := auth.NewStore(tokenFilePath(cfg))
	if err := auth.NewProvider(store, oauthCfg).SetLoginResult(tok); err != nil {
		return err
	}
	logger.Info("tokens stored in %s", store.Path())
	fmt.Println("Login successful.")
	return nil
}
