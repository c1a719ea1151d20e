package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/crisk-verify/internal/models"
	"github.com/rohankatakam/crisk-verify/internal/orchestrator"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Assess a changed file and print its verification plan",
	Long: `Scores the risk of a changed file and prints the verdict, the verification
plan and recommendations.

Examples:
  crisk check src/auth/session.ts --transformations transforms.yaml
  crisk check src/api/users.ts --environment PRODUCTION --criticality 0.9`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	registerCheckFlags(checkCmd)
}

func registerCheckFlags(cmd *cobra.Command) {
	cmd.Flags().String("transformations", "", "YAML file listing applied transformations (type, patterns, count)")
	cmd.Flags().String("domain", "", "business domain hint")
	cmd.Flags().Float64("criticality", -1, "business criticality between 0 and 1")
	cmd.Flags().String("environment", "", "deployment target: DEVELOPMENT, STAGING or PRODUCTION")
	cmd.Flags().Bool("access-control", false, "the file enforces access control")
	cmd.Flags().Bool("sensitive-data", false, "the file handles sensitive data")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	transformations := []models.Transformation{}
	if tf, _ := cmd.Flags().GetString("transformations"); tf != "" {
		data, err := os.ReadFile(tf)
		if err != nil {
			return fmt.Errorf("failed to read transformations: %w", err)
		}
		if err := yaml.Unmarshal(data, &transformations); err != nil {
			return fmt.Errorf("failed to parse transformations %s: %w", tf, err)
		}
	}

	req := &orchestrator.VerificationRequest{
		FilePath:        path,
		Content:         string(content),
		Transformations: transformations,
		BusinessContext: businessContextFromFlags(cmd),
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(ctx)

	resp, err := a.orch.ExecuteVerification(ctx, req)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), resp)
}

// businessContextFromFlags returns nil when no business flag was set
func businessContextFromFlags(cmd *cobra.Command) *models.BusinessContext {
	flags := cmd.Flags()
	if !flags.Changed("domain") && !flags.Changed("criticality") && !flags.Changed("environment") &&
		!flags.Changed("access-control") && !flags.Changed("sensitive-data") {
		return nil
	}

	bc := &models.BusinessContext{}
	bc.Domain, _ = flags.GetString("domain")
	if flags.Changed("criticality") {
		c, _ := flags.GetFloat64("criticality")
		bc.Criticality = &c
	}
	env, _ := flags.GetString("environment")
	bc.Environment = models.Environment(env)
	bc.AccessControl, _ = flags.GetBool("access-control")
	bc.HandlesSensitiveData, _ = flags.GetBool("sensitive-data")
	return bc
}
