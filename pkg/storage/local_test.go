package storage

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutFetchRemove(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "2024/abc.txt", strings.NewReader("payload"), 7))

	path, cleanup, err := s.Fetch(ctx, "2024/abc.txt")
	require.NoError(t, err)
	defer cleanup()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.True(t, strings.HasSuffix(path, ".txt"))

	require.NoError(t, s.Remove(ctx, "2024/abc.txt"))
	_, _, err = s.Fetch(ctx, "2024/abc.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	// 重复删除不是错误
	assert.NoError(t, s.Remove(ctx, "2024/abc.txt"))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1))
	assert.Error(t, s.Put(context.Background(), "", strings.NewReader("x"), 1))
}
