package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/crisk-verify/internal/orchestrator"
)

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.yaml>",
	Short: "Assess every change listed in a manifest",
	Long: `Runs verification for each request in a YAML manifest, a bounded number
at a time, and prints one result per request in manifest order.

Manifest format:
  requests:
    - file_path: src/auth/session.ts
      content_file: session.ts      # or inline content:
      transformations:
        - type: type-annotations
          count: 3`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().Int("concurrency", 0, "requests per chunk (default: orchestrator.max_concurrency)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	requests, err := loadManifest(args[0])
	if err != nil {
		return err
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(ctx)

	results, err := a.orch.ExecuteBatchVerification(ctx, requests, orchestrator.BatchOptions{
		MaxConcurrency: concurrency,
		Progress: func(p orchestrator.BatchProgress) {
			logger.WithFields(logrus.Fields{
				"completed": p.Completed,
				"total":     p.Total,
				"failed":    p.Failed,
			}).Info("Batch progress")
		},
	})
	if results != nil {
		if renderErr := render(cmd.OutOrStdout(), results); renderErr != nil {
			return renderErr
		}
	}
	return err
}
