package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"quotesbot/internal/channel"
	"quotesbot/internal/config"
	"quotesbot/internal/imag"
	"quotesbot/internal/store"

	"github.com/spf13/cobra"
)

const checkTimeout = 15 * time.Second

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run diagnostic checks on the configuration and its services",
		Long: `Verifies that the configuration is valid, that the ledger database is
writable, and that the quote repository and chat networks accept the
configured credentials. Reports pass/fail for each check.`,
		RunE: runCheck,
	}
}

type checkReport struct {
	passed, failed, warned int
}

func (r *checkReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *checkReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *checkReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	fmt.Printf("quotesbot check v%s\n", version)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	var r checkReport

	// 1. Config file exists
	if _, err := os.Stat(cfgPath); err != nil {
		r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Printf("\nRun 'quotesbot init' or 'quotesbot setup' to create a configuration.\n")
		return fmt.Errorf("no config file")
	}
	r.pass("Config file", cfgPath)

	// 2. Config loads and validates
	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return summarize(&r)
	}
	r.pass("Config validation", "valid")

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	// 3. Ledger database writable
	if cfg.Store.Enabled {
		if err := checkLedger(cfg.Store.DBPath); err != nil {
			r.fail("Ledger", err.Error())
		} else {
			r.pass("Ledger", cfg.Store.DBPath)
		}
	} else {
		r.warn("Ledger", "disabled (history will be empty)")
	}

	// 4. Quote repository
	repo, err := imag.New(imag.Config{
		BaseURL:    cfg.Imag.BaseURL,
		Key:        cfg.Imag.Key,
		IDEndpoint: cfg.Imag.IDEndpoint,
		HTTPClient: imag.NewHTTPClient(time.Duration(cfg.Imag.TimeoutSeconds) * time.Second),
		Logger:     logger,
	})
	if err != nil {
		r.fail("Repository", err.Error())
	} else if id, err := repo.LatestID(ctx); err != nil {
		r.fail("Repository", err.Error())
	} else {
		r.pass("Repository", fmt.Sprintf("%s (latest quote #%d)", cfg.Imag.BaseURL, id))
	}
	if cfg.Imag.Key == "" {
		r.warn("Repository key", "not set; !quote submissions will be rejected")
	}

	// 5. Matrix homeserver
	checkMatrix(ctx, cfg, &r)

	// 6. Telegram
	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			HomeChat:  cfg.Telegram.HomeChat,
			Logger:    logger,
		})
		if err := tg.Connect(ctx); err != nil {
			r.fail("Telegram", err.Error())
		} else {
			r.pass("Telegram", "bot id "+tg.UserID())
		}
		if cfg.Telegram.Admin == "" {
			r.warn("Telegram admin", "not set; admin commands are unavailable on Telegram")
		}
	}

	// 7. Metrics listen address
	if cfg.Metrics.Enabled {
		if err := checkListen(cfg.Metrics.Listen); err != nil {
			r.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
		} else {
			r.pass("Metrics listen", cfg.Metrics.Listen+" available")
		}
	}

	// 8. Log file writable
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}

	return summarize(&r)
}

func checkMatrix(ctx context.Context, cfg *config.Config, r *checkReport) {
	matrix, err := channel.NewMatrix(channel.MatrixConfig{
		Homeserver:  cfg.Matrix.Homeserver,
		AccessToken: cfg.Matrix.Token,
		Logger:      logger,
	})
	if err != nil {
		r.fail("Matrix", err.Error())
		return
	}
	userID, err := matrix.CheckToken(ctx)
	if err != nil {
		r.fail("Matrix", err.Error())
		return
	}
	r.pass("Matrix", userID+" on "+cfg.Matrix.Homeserver)

	if cfg.Bot.Admin == "" {
		r.warn("Administrator", "bot.admin not set; join, leave and die are unavailable")
	}
	if cfg.Matrix.Room == "" {
		r.warn("Home room", "matrix.room not set")
		return
	}
	roomID, err := matrix.ResolveRoom(ctx, cfg.Matrix.Room)
	if err != nil {
		r.fail("Home room", err.Error())
		return
	}
	r.pass("Home room", roomID)
}

func summarize(r *checkReport) error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running quotesbot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nquotesbot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! quotesbot is ready to run.\n")
	}
	return nil
}

// checkLedger opens the ledger, which creates and migrates it when needed.
func checkLedger(dbPath string) error {
	ledger, err := store.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ledger.Recent(ctx, "", 1); err != nil {
		return fmt.Errorf("cannot query: %w", err)
	}
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
