// Package cli is the command surface for headless use: the long-running
// capture daemon plus one-shot query and maintenance commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ukiyograin/clipboard-master/internal/clipboard"
	"github.com/Ukiyograin/clipboard-master/internal/config"
	"github.com/Ukiyograin/clipboard-master/internal/engine"
	"github.com/Ukiyograin/clipboard-master/internal/logging"
	"github.com/Ukiyograin/clipboard-master/internal/porter"
	"github.com/Ukiyograin/clipboard-master/internal/store"
)

func NewRootCommand() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:           "clipboard-master",
		Short:         "Clipboard history capture and query engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.clipboard-master)")

	root.AddCommand(
		newRunCommand(&dataDir),
		newSearchCommand(&dataDir),
		newExportCommand(&dataDir),
		newImportCommand(&dataDir),
		newCleanupCommand(&dataDir),
		newPurgeCommand(&dataDir),
		newStatsCommand(&dataDir),
	)

	return root
}

// open loads config and constructs an engine. backend is nil for one-shot
// commands that never touch the OS clipboard.
func open(dataDir string, backend clipboard.Backend) (*engine.Engine, *config.Config, error) {
	if dataDir == "" {
		var err error
		dataDir, err = config.DefaultDataDir()
		if err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load(engine.ConfigPath(dataDir))
	if err != nil {
		return nil, nil, err
	}
	cfg.DataDir = dataDir

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(cfg, backend, log)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func newRunCommand(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := open(*dataDir, clipboard.NewSystemBackend())
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			return eng.Close()
		},
	}
}

func newSearchCommand(dataDir *string) *cobra.Command {
	var (
		kinds    []string
		pinned   bool
		favorite bool
		archived bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search clipboard history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := open(*dataDir, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			filter := store.Filter{
				Kinds:           kinds,
				IncludeArchived: archived,
			}
			if len(args) == 1 {
				filter.Query = args[0]
			}
			if cmd.Flags().Changed("pinned") {
				filter.Pinned = &pinned
			}
			if cmd.Flags().Changed("favorite") {
				filter.Favorite = &favorite
			}

			items, err := eng.Search(cmd.Context(), filter, store.SortTime, store.Page{Limit: limit})
			if err != nil {
				return err
			}
			for _, item := range items {
				marks := ""
				if item.Pinned {
					marks += " [pinned]"
				}
				if item.Favorite {
					marks += " [favorite]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s%s\n",
					item.ID, item.Kind, item.LastUsedAt.Local().Format("2006-01-02 15:04"), item.Preview, marks)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by kind (text, image, files, html)")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "filter by pinned flag")
	cmd.Flags().BoolVar(&favorite, "favorite", false, "filter by favorite flag")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived items")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newExportCommand(dataDir *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export history to a JSON or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := open(*dataDir, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			return eng.Export(cmd.Context(), args[0], porter.Format(format), store.Filter{})
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "export format (json or csv, default by extension)")
	return cmd
}

func newImportCommand(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Import history from a JSON or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := open(*dataDir, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			inserted, recordErrs, err := eng.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d new items\n", inserted)
			for _, recErr := range recordErrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %v\n", recErr)
			}
			return nil
		},
	}
}

func newCleanupCommand(dataDir *string) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Archive items older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cfg, err := open(*dataDir, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			days := retentionDays
			if !cmd.Flags().Changed("days") {
				days = cfg.RetentionDays
			}

			archived, err := eng.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d items\n", archived)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "days", 0, "retention window in days (default from config)")
	return cmd
}

func newPurgeCommand(dataDir *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete archived items and release their storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := open(*dataDir, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			purged, err := eng.PurgeArchived(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d items\n", purged)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only purge items archived longer ago than this")
	return cmd
}

func newStatsCommand(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := open(*dataDir, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			stats, err := eng.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "items:     %d (text %d, image %d, files %d, html %d)\n",
				stats.Total, stats.TextItems, stats.ImageItems, stats.FileItems, stats.HTMLItems)
			fmt.Fprintf(out, "pinned:    %d\n", stats.Pinned)
			fmt.Fprintf(out, "favorites: %d\n", stats.Favorites)
			fmt.Fprintf(out, "archived:  %d\n", stats.Archived)
			fmt.Fprintf(out, "payloads:  %d bytes\n", stats.PayloadSize)
			fmt.Fprintf(out, "database:  %d bytes\n", stats.DBSizeBytes)
			return nil
		},
	}
}
