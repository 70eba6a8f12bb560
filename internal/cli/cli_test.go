package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-go/internal/app"
	"docchat-go/internal/config"
	"docchat-go/internal/service"
	"docchat-go/pkg/database"
)

func setupTestApp(t *testing.T) {
	t.Helper()
	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Employees get 20 days."}}]}`))
	}))
	t.Cleanup(llmServer.Close)

	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Chunker = config.ChunkerConfig{ChunkSize: 40, Overlap: 5}
	cfg.Embedding.Dimensions = 32
	cfg.LLM = config.LLMConfig{Provider: "openai", BaseURL: llmServer.URL, Model: "test"}

	db, err := database.Open(cfg.Database)
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, db, nil, app.Options{})
	require.NoError(t, err)

	application = a
	ingestTitle = ""
	askSources = false
	t.Cleanup(func() { application = nil })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestAskCmd_EmptyIndexReturnsGuidance(t *testing.T) {
	setupTestApp(t)

	out, err := run(t, "ask", "How many vacation days?")
	require.NoError(t, err)
	assert.Contains(t, out, "I don't have any documents to reference")
}

func TestIngestAskCountDelete(t *testing.T) {
	setupTestApp(t)
	path := writeTemp(t, "policy.txt", strings.Repeat("Employees receive twenty vacation days per year. ", 5))

	out, err := run(t, "ingest", path, "--title", "Policy")
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested document 1 (Policy)")

	out, err = run(t, "count")
	require.NoError(t, err)
	assert.NotEqual(t, "0", strings.TrimSpace(out))

	out, err = run(t, "ask", "How many vacation days?", "--sources")
	require.NoError(t, err)
	assert.Contains(t, out, "Employees get 20 days.")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "Policy #")

	out, err = run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] Policy (policy.txt")
	assert.Contains(t, out, "processed")

	out, err = run(t, "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted document 1")

	out, err = run(t, "count")
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))
}

func TestIngestCmd_UnsupportedFile(t *testing.T) {
	setupTestApp(t)
	path := writeTemp(t, "slides.pptx", "x")

	_, err := run(t, "ingest", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest failed")
}

func TestDeleteCmd_InvalidID(t *testing.T) {
	setupTestApp(t)

	_, err := run(t, "delete", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid document id")
}

func TestSeedCmd(t *testing.T) {
	setupTestApp(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha document body"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("beta document body"), 0o644))

	out, err := run(t, "seed", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2, skipped 0, failed 0")

	out, err = run(t, "seed", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 0, skipped 2, failed 0")
}

func TestAskCmd_RequiresExactlyOneArg(t *testing.T) {
	setupTestApp(t)

	_, err := run(t, "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestRootCmd_HasConfigFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, "./configs/config.yaml", flag.DefValue)
}

func TestDefaultLoadApp_FallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a, err := defaultLoadApp(context.Background(), filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	n, err := a.Index().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDefaultLoadApp_RebuildsIndexAfterRestart(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	ctx := context.Background()
	missing := filepath.Join(dir, "missing.yaml")

	first, err := defaultLoadApp(ctx, missing)
	require.NoError(t, err)
	body := strings.Repeat("Employees receive twenty vacation days per year. ", 40)
	doc, err := first.Documents.Upload(ctx, service.UploadRequest{
		FileName: "policy.txt",
		Content:  strings.NewReader(body),
		Size:     int64(len(body)),
	})
	require.NoError(t, err)
	require.Positive(t, doc.ChunkCount)

	// 第二次启动共享 sqlite 文件和文档目录，但内存索引是新的
	second, err := defaultLoadApp(ctx, missing)
	require.NoError(t, err)
	n, err := second.Index().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, n)

	matches, err := second.Pipeline().Retrieve(ctx, "vacation days", 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, doc.ID, matches[0].Metadata.DocumentID)
}
