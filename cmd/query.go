package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/tfguard/internal/orchestrator"
	"github.com/Yates-Labs/tfguard/internal/report"
)

var (
	queryPlan       string
	queryNamespace  string
	queryGuardrails string
	queryOutput     string
	queryFormat     string
	queryTopK       int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve indexed context for a Terraform plan",
	Long: `Query embeds a Terraform plan (JSON from 'terraform show -json' or plain text),
retrieves the most similar chunks from the namespace and either prints them or
writes an LLM-ready payload.

Without --output the retrieved chunk texts are printed to stdout. With --output
the payload is written as indented JSON:
  --format payload   instructions, terraform_plan, guardrails, semantic_context
  --format messages  chat-completion messages with temperature and max_tokens

Examples:
  tfguard query --plan tfplan.json --namespace proj1
  tfguard query --plan tfplan.json --namespace proj1 --guardrails ./guardrails.md \
    --output payload.json --format messages`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&queryPlan, "plan", "", "Terraform plan file")
	queryCmd.Flags().StringVar(&queryNamespace, "namespace", "", "Namespace to search")
	queryCmd.Flags().StringVar(&queryGuardrails, "guardrails", "", "Guardrail file or github:// reference to include in the payload")
	queryCmd.Flags().StringVar(&queryOutput, "output", "", "Write the JSON payload to this file")
	queryCmd.Flags().StringVar(&queryFormat, "format", string(report.FormatPayload), "Payload layout: payload or messages")
	queryCmd.Flags().IntVar(&queryTopK, "top_k", 0, "Number of chunks to retrieve (default TFGUARD_TOP_K)")
	_ = queryCmd.MarkFlagRequired("plan")
	_ = queryCmd.MarkFlagRequired("namespace")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := report.ParseFormat(queryFormat)
	if err != nil {
		return err
	}
	if queryTopK < 0 {
		return fmt.Errorf("--top_k must be positive, got %d", queryTopK)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pipeline, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	result, err := pipeline.Query(ctx, orchestrator.QueryRequest{
		PlanPath:      queryPlan,
		GuardrailsRef: queryGuardrails,
		Namespace:     queryNamespace,
		TopK:          queryTopK,
	})
	if err != nil {
		return err
	}

	if !result.NamespaceExists {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Warning: namespace "+queryNamespace+" has not been indexed"))
	}

	if queryOutput != "" {
		if err := report.WriteFile(queryOutput, result.Payload(format)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), successStyle.Render(fmt.Sprintf("✓ Wrote %s payload with %d context chunks to %s",
			format, len(result.Results), queryOutput)))
		return nil
	}

	out := cmd.OutOrStdout()
	for _, text := range report.ContextTexts(result.Results) {
		fmt.Fprintln(out, text)
	}
	return nil
}
