package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/tfguard/internal/orchestrator"
)

var (
	indexCodeDir    string
	indexGuardrails string
	indexNamespace  string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index Terraform sources and guardrails into a namespace",
	Long: `Index walks a Terraform source tree (or clones a git repository), splits every
.tf and .tf.json file plus the guardrail document into overlapping chunks,
embeds them and appends them to the namespace.

Re-indexing the same sources appends duplicate entries; delete the namespace
first to rebuild it.

Examples:
  tfguard index --code_dir ./infra --guardrails ./guardrails.md --namespace proj1
  tfguard index --code_dir https://github.com/acme/infra.git \
    --guardrails github://acme/policies/terraform.md@main --namespace acme`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexCodeDir, "code_dir", "", "Terraform source directory or git URL")
	indexCmd.Flags().StringVar(&indexGuardrails, "guardrails", "", "Guardrail file or github://owner/repo/path[@ref]")
	indexCmd.Flags().StringVar(&indexNamespace, "namespace", "", "Namespace to index into")
	_ = indexCmd.MarkFlagRequired("code_dir")
	_ = indexCmd.MarkFlagRequired("guardrails")
	_ = indexCmd.MarkFlagRequired("namespace")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pipeline, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	stats, err := pipeline.Index(ctx, orchestrator.IndexRequest{
		CodeDir:    indexCodeDir,
		Guardrails: indexGuardrails,
		Namespace:  indexNamespace,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Indexed namespace: %s", stats.Namespace)))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("  %d documents, %d chunks, %d entries",
		stats.Documents, stats.Chunks, stats.Entries)))
	if stats.Handle != "" {
		fmt.Fprintln(out, mutedStyle.Render("  stored at "+stats.Handle))
	}
	return nil
}
