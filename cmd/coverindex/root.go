package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"coverscan/internal/app"
	"coverscan/internal/books"
	"coverscan/internal/config"
	"coverscan/internal/coverindex"
	"coverscan/internal/logger"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "coverindex",
		Short:        "Build and check the cover reference index",
		Long:         `Extract features from a directory of cover images, load them into the reference index and check it against the book store.`,
		Version:      version,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("dir", "", "Covers directory (defaults to COVERS_DIR)")
	rootCmd.AddCommand(newBuildCmd(), newWatchCmd(), newCheckCmd())
	return rootCmd
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index every cover in the directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withSession(cmd, func(ctx context.Context, s *session) error {
				rep, err := s.builder.Build(ctx, s.dir, force)
				if err != nil {
					return fmt.Errorf("build index: %w", err)
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rep)
			})
		},
	}
	cmd.Flags().Bool("force", false, "Re-extract covers that are already indexed")
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index covers as they are written to the directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if _, err := s.builder.Build(ctx, s.dir, false); err != nil {
					return fmt.Errorf("initial build: %w", err)
				}
				return s.builder.Watch(ctx, s.dir, debounce, func(key string) {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				})
			})
		},
	}
	cmd.Flags().Duration("debounce", 500*time.Millisecond, "Debounce window for batching file events")
	return cmd
}

var errDrift = errors.New("index drift found")

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report drift between the book store, the index and the covers directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repair, _ := cmd.Flags().GetBool("repair")
			return withSession(cmd, func(ctx context.Context, s *session) error {
				run := s.checker.Check
				if repair {
					run = s.checker.Repair
				}
				drift, err := run(ctx, s.dir)
				if err != nil {
					return fmt.Errorf("check index: %w", err)
				}
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(drift); err != nil {
					return err
				}
				return checkOutcome(drift, repair)
			})
		},
	}
	cmd.Flags().Bool("repair", false, "Reindex covers missing from the index and remove orphan embeddings")
	return cmd
}

// checkOutcome turns a report into the exit status. A plain check fails on
// any drift; a repair fails only when a key could not be fixed.
func checkOutcome(d *coverindex.Drift, repaired bool) error {
	if !repaired {
		if d.Clean() {
			return nil
		}
		return errDrift
	}
	if len(d.RepairFailed) > 0 {
		return fmt.Errorf("%d keys could not be repaired: %v", len(d.RepairFailed), d.RepairFailed)
	}
	return nil
}

type session struct {
	dir     string
	builder *coverindex.Builder
	checker *coverindex.Checker
}

// withSession connects to the configured index backend and hands fn a
// builder and checker over it.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.CoversDir
	}

	ctx := cmd.Context()
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	extractor := app.NewExtractor(cfg)
	idx, err := app.BuildIndex(ctx, cfg, deps.DB, deps.Weaviate, extractor.Dimension(), log)
	if err != nil {
		return err
	}
	builder := coverindex.NewBuilder(extractor, idx, log)
	return fn(ctx, &session{
		dir:     dir,
		builder: builder,
		checker: coverindex.NewChecker(books.NewPostgresRepo(deps.DB), idx, builder, log),
	})
}
