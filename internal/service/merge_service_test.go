package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeChunkFiles 把 content 按 chunkSize 切成分片写入 dir，返回分片数。
// 写入顺序随机打乱，模拟分片乱序到达。
func writeChunkFiles(t *testing.T, dir string, content []byte, chunkSize int) int {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	total := (len(content) + chunkSize - 1) / chunkSize
	order := rand.Perm(total)
	for _, i := range order {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}
		path := filepath.Join(dir, fmt.Sprintf("chunk_%d", i))
		require.NoError(t, os.WriteFile(path, content[start:end], 0o644))
	}
	return total
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestMergeChunksProducesIdenticalBytes(t *testing.T) {
	dir := t.TempDir()
	chunkDir := filepath.Join(dir, "chunks")
	content := randomBytes(t, 22*1024)
	total := writeChunkFiles(t, chunkDir, content, 5*1024)
	require.Equal(t, 5, total)

	mergedPath := filepath.Join(dir, "merged_out")
	svc := NewMergeService(false)
	result, err := svc.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-1",
		ChunkDir:       chunkDir,
		MergedFilePath: mergedPath,
		ChunkTotal:     total,
		DeclaredSize:   int64(len(content)),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), result.Size)
	merged, err := os.ReadFile(mergedPath)
	require.NoError(t, err)
	assert.Equal(t, content, merged)

	sum := md5.Sum(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.MD5)
}

func TestMergeChunksMissingChunk(t *testing.T) {
	dir := t.TempDir()
	chunkDir := filepath.Join(dir, "chunks")
	content := randomBytes(t, 12*1024)
	total := writeChunkFiles(t, chunkDir, content, 4*1024)
	require.NoError(t, os.Remove(filepath.Join(chunkDir, "chunk_1")))

	mergedPath := filepath.Join(dir, "merged_out")
	svc := NewMergeService(false)
	_, err := svc.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-2",
		ChunkDir:       chunkDir,
		MergedFilePath: mergedPath,
		ChunkTotal:     total,
	})
	require.Error(t, err)

	var missing *MissingChunkError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 1, missing.Index)
	// 前置检查拒绝后不应产生目标文件
	_, statErr := os.Stat(mergedPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMergeChunksChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	chunkDir := filepath.Join(dir, "chunks")
	content := randomBytes(t, 8*1024)
	total := writeChunkFiles(t, chunkDir, content, 4*1024)

	mergedPath := filepath.Join(dir, "merged_out")
	svc := NewMergeService(false)
	_, err := svc.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-3",
		ChunkDir:       chunkDir,
		MergedFilePath: mergedPath,
		ChunkTotal:     total,
		ExpectedMD5:    "0123456789abcdef0123456789abcdef",
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)

	// 校验失败的产物不能留在暂存目录
	_, statErr := os.Stat(mergedPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMergeChunksStrictSizeCheck(t *testing.T) {
	dir := t.TempDir()
	chunkDir := filepath.Join(dir, "chunks")
	content := randomBytes(t, 6*1024)
	total := writeChunkFiles(t, chunkDir, content, 4*1024)

	mergedPath := filepath.Join(dir, "merged_out")

	// 宽松模式：声明大小与实际不符时只记录，不报错
	relaxed := NewMergeService(false)
	result, err := relaxed.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-4",
		ChunkDir:       chunkDir,
		MergedFilePath: mergedPath,
		ChunkTotal:     total,
		DeclaredSize:   int64(len(content)) + 100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), result.Size)

	// 严格模式：同样的不符直接拒绝
	strict := NewMergeService(true)
	_, err = strict.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-4",
		ChunkDir:       chunkDir,
		MergedFilePath: mergedPath,
		ChunkTotal:     total,
		DeclaredSize:   int64(len(content)) + 100,
	})
	require.ErrorIs(t, err, ErrSizeMismatch)
	_, statErr := os.Stat(mergedPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMergeChunksExpectedMD5Match(t *testing.T) {
	dir := t.TempDir()
	chunkDir := filepath.Join(dir, "chunks")
	content := []byte("hello chunked world")
	total := writeChunkFiles(t, chunkDir, content, 5)
	sum := md5.Sum(content)

	svc := NewMergeService(false)
	result, err := svc.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-5",
		ChunkDir:       chunkDir,
		MergedFilePath: filepath.Join(dir, "merged_out"),
		ChunkTotal:     total,
		ExpectedMD5:    hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.MD5)
}

func TestMergeChunksMissingChunkDir(t *testing.T) {
	dir := t.TempDir()
	svc := NewMergeService(false)
	_, err := svc.MergeChunks(context.Background(), MergeRequest{
		ResourceID:     "res-6",
		ChunkDir:       filepath.Join(dir, "no-such-dir"),
		MergedFilePath: filepath.Join(dir, "merged_out"),
		ChunkTotal:     1,
	})
	require.Error(t, err)
}
