package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	showCitations bool
	showUsage     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question, answered with knowledge-base retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&showCitations, "citations", false, "list the knowledge-base passages the answer used")
	askCmd.Flags().BoolVar(&showUsage, "usage", false, "print token usage and cost per model call")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := newBackend(ctx)
	if err != nil {
		return err
	}
	defer b.cleanup()

	ctrl, err := newController(b)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	result, err := ctrl.Run(ctx, question)
	if err != nil {
		return fmt.Errorf("running agent: %w", err)
	}

	fmt.Println(result.Response.Content)

	if showCitations {
		if result.Citations == nil {
			fmt.Println("\nNo knowledge-base retrieval was used.")
		} else if len(result.Citations) == 0 {
			fmt.Println("\nThe knowledge base was searched but nothing matched.")
		} else {
			fmt.Println("\nSources:")
			for _, c := range result.Citations {
				name := c.Metadata["filename"]
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("  [%d] %s (iteration %d)\n", c.ID, name, c.UsedInIteration)
			}
		}
	}

	if showUsage {
		var totalCost float64
		fmt.Println("\nUsage:")
		for _, e := range result.UsagePerNode {
			fmt.Printf("  %s/%s iteration %d: %d in / %d out tokens, $%.6f\n",
				e.NodeName, e.InvokeMethod, e.Iteration,
				e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.TotalCost)
			totalCost += e.Usage.TotalCost
		}
		fmt.Printf("  total: $%.6f\n", totalCost)
	}

	return nil
}
