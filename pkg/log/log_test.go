package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNopBeforeInit(t *testing.T) {
	// 未初始化时调用不应 panic
	assert.NotPanics(t, func() {
		Infof("document %d indexed", 1)
		Warnw("slow embedding", "ms", 1200)
		Error("failed", assert.AnError)
	})
}

func TestInit_WritesJSONToFile(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	dir := t.TempDir()
	Init("warn", "json", dir)
	Info("filtered out")
	Warnw("chunk rollback", "document_id", 42)
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered out")
	assert.Contains(t, string(data), `"msg":"chunk rollback"`)
	assert.Contains(t, string(data), `"document_id":42`)
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	Init("verbose", "console", "")
	assert.True(t, sugar.Desugar().Core().Enabled(zap.InfoLevel))
	assert.False(t, sugar.Desugar().Core().Enabled(zap.DebugLevel))
}
