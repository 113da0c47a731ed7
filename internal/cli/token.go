package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the stored access token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token>",
	Short: "Store an access token",
	Args:  cobra.ExactArgs(1),
	Run:   runTokenSet,
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored access token",
	Args:  cobra.NoArgs,
	Run:   runTokenClear,
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenClearCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	tokens, cleanup, err := tokenStore(cfg)
	if err != nil {
		slog.Error("Failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if tokens == nil {
		slog.Error("Credential store disabled (auth.store: none)")
		os.Exit(1)
	}

	if err := tokens.Save(context.Background(), args[0]); err != nil {
		slog.Error("Failed to store token", "error", err)
		os.Exit(1)
	}
	slog.Info("Token stored", "store", cfg.Auth.Store)
}

func runTokenClear(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	tokens, cleanup, err := tokenStore(cfg)
	if err != nil {
		slog.Error("Failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if tokens == nil {
		return
	}

	if err := tokens.Remove(context.Background()); err != nil {
		slog.Error("Failed to remove token", "error", err)
		os.Exit(1)
	}
	slog.Info("Token removed", "store", cfg.Auth.Store)
}
