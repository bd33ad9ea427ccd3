package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/tfguard/internal/orchestrator"
)

var deleteNamespace string

var deleteCmd = &cobra.Command{
	Use:   "delete-namespace",
	Short: "Delete every indexed entry of a namespace",
	Long: `Delete a namespace and all of its entries. Deleting a namespace that does not
exist is reported but is not an error.`,
	Args: cobra.NoArgs,
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVar(&deleteNamespace, "namespace", "", "Namespace to delete")
	_ = deleteCmd.MarkFlagRequired("namespace")
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	deleted, err := pipeline.DeleteNamespace(ctx, deleteNamespace)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if deleted {
		fmt.Fprintln(out, successStyle.Render("Deleted namespace: "+deleteNamespace))
	} else {
		fmt.Fprintln(out, warnStyle.Render("Namespace not found: "+deleteNamespace))
	}
	return nil
}
