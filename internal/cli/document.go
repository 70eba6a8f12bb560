package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"docchat-go/internal/app"
	"docchat-go/internal/service"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the knowledge base",
	Long: `Extracts, chunks and embeds a PDF, DOCX or TXT file and stores its chunks
in the vector index. The title defaults to the file name.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var seedCmd = &cobra.Command{
	Use:   "seed [dir]",
	Short: "Ingest every supported file under a directory",
	Long: `Walks the directory and ingests each supported file. Files whose content
was already ingested are skipped, so the command can be re-run safely.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "document title (defaults to the file name)")
	rootCmd.AddCommand(ingestCmd, listCmd, deleteCmd, seedCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	doc, err := application.Documents.Upload(cmd.Context(), service.UploadRequest{
		Title:    ingestTitle,
		FileName: filepath.Base(path),
		Content:  f,
		Size:     info.Size(),
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	cmd.Printf("Ingested document %d (%s): %d chunks\n", doc.ID, doc.Title, doc.ChunkCount)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	docs, err := application.Documents.List()
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}
	for _, d := range docs {
		status := "pending"
		if d.Processed {
			status = "processed"
		}
		cmd.Printf("  [%d] %s (%s, %d chunks, %s)\n", d.ID, d.Title, d.FileName, d.ChunkCount, status)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid document id %q", args[0])
	}
	if err := application.Documents.Delete(cmd.Context(), uint(id)); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	cmd.Printf("Deleted document %d\n", id)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	res := app.SeedDirectory(cmd.Context(), args[0], application.Documents)
	cmd.Printf("Imported %d, skipped %d, failed %d\n", res.Imported, res.Skipped, res.Failed)
	if res.Reindexed > 0 {
		cmd.Printf("Reindexed %d existing documents with missing chunks\n", res.Reindexed)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d files failed to ingest", res.Failed)
	}
	return nil
}
