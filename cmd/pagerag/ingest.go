package main

import (
	"fmt"
	"os"

	"github.com/hyperjump/pagerag/internal/cli"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIngestCommand(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "ingest <path|glob>...",
		Short: "Index PDF files, directories or globs such as docs/**/*.pdf",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			paths, err := cli.ExpandPaths(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no PDF files matched %v", args)
			}

			ctx := cmd.Context()
			components, err := initializeComponents(ctx, cfg, logger, needs{embedder: true, keywords: true})
			if err != nil {
				return err
			}
			defer components.Close()

			scope := scopeFor(opts, cfg)
			out := cmd.OutOrStdout()
			progress := cli.NewProgress(os.Stderr, len(paths), "ingesting", !jsonOut && cli.IsTerminal(os.Stderr))

			type outcome struct {
				Path   string               `json:"path"`
				Result *models.IngestResult `json:"result,omitempty"`
				Error  string               `json:"error,omitempty"`
			}
			outcomes := make([]outcome, 0, len(paths))
			failed := 0
			for _, p := range paths {
				res, err := components.Indexer.IngestFile(ctx, scope, p)
				progress.Increment()
				if err != nil {
					failed++
					logger.Debug("ingest failed", zap.String("path", p), zap.Error(err))
					outcomes = append(outcomes, outcome{Path: p, Error: err.Error()})
					continue
				}
				outcomes = append(outcomes, outcome{Path: p, Result: res})
			}
			progress.Finish()

			if jsonOut {
				if err := cli.WriteJSON(out, outcomes); err != nil {
					return err
				}
			} else {
				for _, o := range outcomes {
					if o.Error != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", o.Path, o.Error)
						continue
					}
					cli.WriteIngestResult(out, o.Path, o.Result)
				}
			}
			if failed == len(paths) {
				return fmt.Errorf("all %d files failed to ingest", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output results as JSON")
	return cmd
}
