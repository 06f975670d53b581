package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"quotesbot/internal/channel"
	"quotesbot/internal/config"
	"quotesbot/internal/domain"

	"github.com/spf13/cobra"
)

func consoleCmd() *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot from the terminal",
		Long: "Runs the bot against a local console room instead of Matrix. You are the administrator; " +
			"quotes are still saved to and fetched from the configured repository.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(resolveConfigPath())
			if errors.Is(err, fs.ErrNotExist) {
				cfg, err = config.Defaults(), nil
			}
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if repo != "" {
				cfg.Imag.BaseURL = repo
			}
			cfg.Telegram.Enabled = false
			// The console prints its own transcript; keep logs out of it
			// unless a log file is configured.
			if cfg.General.LogFile == "" && !cfg.General.Debug {
				cfg.General.LogLevel = "error"
			}

			console := channel.NewConsole(channel.ConsoleConfig{Logger: logger})
			return serve(cfg, func(context.Context) ([]domain.Channel, error) {
				return []domain.Channel{console}, nil
			}, func(domain.Channel) string {
				return channel.ConsoleUser
			})
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "image quote repository URL (overrides imag.baseURL)")
	return cmd
}
