package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"quotesbot/internal/config"

	"github.com/spf13/cobra"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: homeserver → room → repository → admin → save config",
		Long:  "Guides you through the Matrix account, home room, quote repository and administrator, optionally Telegram. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Read(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'quotesbot check', then 'quotesbot run'.")
			return nil
		},
	}
}

// runSetup asks for every setting a first run needs and updates cfg.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		// At EOF the remaining answers take their defaults.
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	yes := func(label string, def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		answer, err := prompt(label+" (y/n)", d)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(answer), "y"), nil
	}

	var err error

	fmt.Fprintln(out, "\n--- Step 1: Matrix account ---")
	if cfg.Matrix.Homeserver, err = prompt("Homeserver URL", cfg.Matrix.Homeserver); err != nil {
		return err
	}
	if cfg.Matrix.Token, err = prompt("Access token (or ${MATRIX_TOKEN})", cfg.Matrix.Token); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 2: Rooms ---")
	if cfg.Matrix.Room, err = prompt("Home room ID or alias", cfg.Matrix.Room); err != nil {
		return err
	}
	if cfg.Matrix.Autojoin, err = yes("Accept every room invite?", cfg.Matrix.Autojoin); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 3: Quote repository ---")
	if cfg.Imag.BaseURL, err = prompt("Repository URL", cfg.Imag.BaseURL); err != nil {
		return err
	}
	if cfg.Imag.Key, err = prompt("Submission key (or ${IMAG_KEY})", cfg.Imag.Key); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 4: Commands ---")
	if cfg.Bot.Prefix, err = prompt("Command prefix", cfg.Bot.Prefix); err != nil {
		return err
	}
	if cfg.Bot.Admin, err = prompt("Administrator Matrix ID (e.g. @you:example.org)", cfg.Bot.Admin); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 5: Telegram (optional) ---")
	if cfg.Telegram.Enabled, err = yes("Also serve a Telegram bot?", cfg.Telegram.Enabled); err != nil {
		return err
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token, err = prompt("Telegram bot token (from @BotFather)", cfg.Telegram.Token); err != nil {
			return err
		}
		if cfg.Telegram.Admin, err = prompt("Administrator Telegram user ID", cfg.Telegram.Admin); err != nil {
			return err
		}
	}
	return nil
}
