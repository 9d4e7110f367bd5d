package staging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-resource-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

func TestWriteChunkCreatesAndOverwrites(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	written, err := store.WriteChunk("res-1", 0, bytes.NewReader([]byte("first")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), written)

	content, err := os.ReadFile(store.ChunkPath("res-1", 0))
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))

	// 重复写入同一索引直接覆盖
	written, err = store.WriteChunk("res-1", 0, bytes.NewReader([]byte("second!")))
	require.NoError(t, err)
	assert.Equal(t, int64(7), written)

	content, err = os.ReadFile(store.ChunkPath("res-1", 0))
	require.NoError(t, err)
	assert.Equal(t, "second!", string(content))
}

func TestChunkPathsDerivedFromResourceID(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store.TempDir(), "resource_chunks_res-9"), store.ChunkDir("res-9"))
	assert.Equal(t, filepath.Join(store.ChunkDir("res-9"), "chunk_3"), store.ChunkPath("res-9", 3))
	assert.Equal(t, filepath.Join(store.TempDir(), "merged_file.zip"), store.MergedFilePath("originalFile/file.zip"))
}

func TestRemoveAll(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.WriteChunk("res-2", 0, bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	_, err = store.WriteChunk("res-2", 1, bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	require.NoError(t, store.RemoveAll("res-2"))
	_, statErr := os.Stat(store.ChunkDir("res-2"))
	assert.True(t, os.IsNotExist(statErr))

	// 删除不存在的目录不报错
	require.NoError(t, store.RemoveAll("res-2"))
}

func TestSweepExpired(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.WriteChunk("res-old", 0, bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	_, err = store.WriteChunk("res-new", 0, bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	mergedOld := filepath.Join(store.TempDir(), "merged_old.zip")
	require.NoError(t, os.WriteFile(mergedOld, []byte("merged"), 0o644))
	unrelated := filepath.Join(store.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

	// 把过期对象的修改时间拨回三小时前
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(store.ChunkDir("res-old"), old, old))
	require.NoError(t, os.Chtimes(mergedOld, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	store.SweepExpired(2 * time.Hour)

	_, statErr := os.Stat(store.ChunkDir("res-old"))
	assert.True(t, os.IsNotExist(statErr), "过期分片目录应被清理")
	_, statErr = os.Stat(mergedOld)
	assert.True(t, os.IsNotExist(statErr), "过期合并文件应被清理")

	_, statErr = os.Stat(store.ChunkDir("res-new"))
	assert.NoError(t, statErr, "未过期分片目录应保留")
	_, statErr = os.Stat(unrelated)
	assert.NoError(t, statErr, "无关文件即使过期也不应被清理")
}
