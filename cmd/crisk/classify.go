package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/crisk-verify/internal/recovery"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <error message>",
	Short: "Classify a failure message and show its recovery strategy",
	Long: `Runs the failure classifier on an error message and prints the category,
severity, recovery strategy and prevention measures.

Examples:
  crisk classify "429 Too Many Requests"
  crisk classify "dial tcp: connection refused" --service redis`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().String("operation", "classify", "operation that failed")
	classifyCmd.Flags().String("service", "", "service that failed")
}

func runClassify(cmd *cobra.Command, args []string) error {
	operation, _ := cmd.Flags().GetString("operation")
	service, _ := cmd.Flags().GetString("service")

	analysis := recovery.NewClassifier().Analyze(errors.New(strings.Join(args, " ")), recovery.ErrorContext{
		Operation: operation,
		Service:   service,
		Timestamp: time.Now(),
	})
	return render(cmd.OutOrStdout(), analysis)
}
