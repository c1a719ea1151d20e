package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/crisk-verify/internal/config"
	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile      string
	verbose      bool
	outputFormat string
	logger       *logrus.Logger
	cfg          *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprint(os.Stderr, errorMessage(err, verbose))
		os.Exit(1)
	}
}

// errorMessage renders a command failure. Verbose mode prints the full
// context of structured errors.
func errorMessage(err error, verbose bool) string {
	if e, ok := errors.As(err); ok && verbose {
		return e.DetailedString()
	}
	return fmt.Sprintf("Error: %v\n", err)
}

var rootCmd = &cobra.Command{
	Use:   "crisk",
	Short: "Risk assessment and verification planning for automated code changes",
	Long: `crisk scores the risk of an automated source change, plans the checks
it needs before shipping, and classifies failures for recovery.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		result := cfg.Validate()
		if result.HasErrors() {
			return result.Err()
		}

		level, _ := logging.ParseLevel(cfg.Logging.Level)
		lg, err := logging.Initialize(logging.Config{
			Level:      level,
			OutputFile: cfg.Logging.File,
			JSONFormat: cfg.Logging.JSON,
			AddSource:  verbose,
		})
		if err != nil {
			return err
		}
		logger = lg.Logrus()

		for _, w := range result.Warnings {
			logger.Warn(w)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .crisk/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")

	rootCmd.SetVersionTemplate(`crisk {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(configCmd)
}
