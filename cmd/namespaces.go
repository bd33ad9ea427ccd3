package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/tfguard/internal/orchestrator"
)

var namespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "List the namespaces in the configured vector store",
	Args:  cobra.NoArgs,
	RunE:  runNamespaces,
}

func init() {
	rootCmd.AddCommand(namespacesCmd)
}

func runNamespaces(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pipeline, err := orchestrator.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	names, err := pipeline.Namespaces(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No namespaces"))
		return nil
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Namespaces (%s):", cfg.VectorStore)))
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
