package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/m-mizutani/iocdb/pkg/api"
	"github.com/m-mizutani/iocdb/pkg/arguments"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.EmitSentry(err)
		errors.FlushSentry()
		logging.Logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
	errors.FlushSentry()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "iocdb",
		Short:         "Threat indicator catalog with deduplication and enrichment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newImportCmd(), newEnrichCmd(), newRefreshCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := arguments.New()
			if addr != "" {
				args.BindAddr = addr
			}

			server, err := api.New(args)
			if err != nil {
				return err
			}
			return server.ListenAndServe(args.BindAddr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides IOCDB_ADDR)")
	return cmd
}

func newImportCmd() *cobra.Command {
	var sourceID string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-import indicators from a JSONL or plain-value file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			args := arguments.New()
			importer, err := args.ImportService()
			if err != nil {
				return err
			}

			f, err := os.Open(cmdArgs[0])
			if err != nil {
				return errors.Wrap(err, "open import file").With("path", cmdArgs[0])
			}
			defer f.Close()

			summary, err := importer.ImportReader(f, sourceID)
			if err != nil {
				return err
			}

			logging.Logger.Info().
				Int("lines", summary.Lines).
				Int("created", summary.Created).
				Int("updated", summary.Updated).
				Int("failed", summary.Failed).
				Msg("Import finished")
			if err := summary.Err(); err != nil {
				logging.Logger.Warn().Err(err).Msg("Some lines were skipped")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "source ID to attribute imported indicators to")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	var sourceID string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch registered feed sources and import their indicators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := arguments.New()
			collector, err := args.CollectorService()
			if err != nil {
				return err
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")

			if sourceID != "" {
				result, err := collector.Refresh(sourceID)
				if err != nil {
					return err
				}
				return out.Encode(result)
			}

			results, err := collector.RefreshAll()
			if err != nil {
				return err
			}
			return out.Encode(results)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "refresh only this source ID")
	return cmd
}

func newEnrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <value>",
		Short: "Look up an indicator and run the enrichment providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			args := arguments.New()

			indicators, err := args.IndicatorService()
			if err != nil {
				return err
			}
			orchestra, err := args.OrchestratorService()
			if err != nil {
				return err
			}
			providers, err := args.Providers()
			if err != nil {
				return err
			}

			ind, err := indicators.Lookup(cmdArgs[0])
			if err != nil {
				return err
			}

			report, err := orchestra.Enrich(context.Background(), ind.ID, providers)
			if err != nil {
				return err
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")
			return out.Encode(report)
		},
	}
}
