package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var askSources bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the ingested documents",
	Long: `Retrieves the chunks most similar to the question and asks the configured
language model to answer from them.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of chunks in the vector index",
	Args:  cobra.NoArgs,
	RunE:  runCount,
}

func init() {
	askCmd.Flags().BoolVarP(&askSources, "sources", "s", false, "print the chunks the answer was based on")
	rootCmd.AddCommand(askCmd, countCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	answer := application.Pipeline().Ask(cmd.Context(), args[0])
	cmd.Println(answer.Text)

	if askSources && len(answer.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, m := range answer.Sources {
			cmd.Printf("  [%d] %s #%d (%.2f)\n", i+1, m.Metadata.DocumentTitle, m.Metadata.ChunkIndex, m.Score)
		}
	}
	return nil
}

func runCount(cmd *cobra.Command, args []string) error {
	n, err := application.Index().Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	cmd.Println(n)
	return nil
}
