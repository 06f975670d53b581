package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"quotesbot/internal/config"
	"quotesbot/internal/store"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		noticeType string
		limit      int
		digest     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent bot activity from the ledger",
		Long: `Lists the most recent recorded notices: commands, submitted and retrieved
quotes, room changes and failures. With --digest, lists every submission of
the image with that BLAKE3 digest instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("the ledger is disabled (store.enabled = false)")
			}

			ledger, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			var entries []store.Entry
			if digest != "" {
				entries, err = ledger.ByDigest(ctx, digest)
			} else {
				entries, err = ledger.Recent(ctx, noticeType, limit)
			}
			if err != nil {
				return fmt.Errorf("query ledger: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No recorded activity.")
				return nil
			}
			printEntries(entries)
			return nil
		},
	}
	cmd.Flags().StringVarP(&noticeType, "type", "t", "", "only show notices of this type (e.g. quote.submitted)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVar(&digest, "digest", "", "list submissions of the image with this digest")
	return cmd
}

func printEntries(entries []store.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCHANNEL\tROOM\tSENDER\tDETAIL")
	for _, e := range entries {
		detail := e.Detail
		switch {
		case e.QuoteID > 0 && detail != "":
			detail = fmt.Sprintf("#%d %s", e.QuoteID, detail)
		case e.QuoteID > 0:
			detail = fmt.Sprintf("#%d", e.QuoteID)
		case e.Verb != "" && detail == "":
			detail = e.Verb
		}
		if r := []rune(detail); len(r) > 60 {
			detail = string(r[:57]) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.DateTime), e.Type, e.Channel, e.RoomID, e.Sender, detail)
	}
	w.Flush()
}
