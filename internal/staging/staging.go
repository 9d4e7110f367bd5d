// Package staging 管理分片上传的本地暂存目录与合并临时文件。
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pai-resource-go/pkg/log"
)

const (
	chunkDirPrefix   = "resource_chunks_"
	mergedFilePrefix = "merged_"
	chunkFilePattern = "chunk_%d"
)

// ChunkStore 将单个分片的原始字节持久化到以 (resourceId, chunkIndex) 寻址的暂存位置。
type ChunkStore struct {
	tempDir string
}

// NewChunkStore 创建 ChunkStore，并确保暂存根目录存在。
func NewChunkStore(tempDir string) (*ChunkStore, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建暂存目录失败: %w", err)
	}
	return &ChunkStore{tempDir: tempDir}, nil
}

// TempDir 返回暂存根目录。
func (s *ChunkStore) TempDir() string {
	return s.tempDir
}

// ChunkDir 返回资源的分片暂存目录路径，命名由 resourceId 确定性导出。
func (s *ChunkStore) ChunkDir(resourceID string) string {
	return filepath.Join(s.tempDir, chunkDirPrefix+resourceID)
}

// ChunkPath 返回单个分片文件的路径。
func (s *ChunkStore) ChunkPath(resourceID string, chunkIndex int) string {
	return filepath.Join(s.ChunkDir(resourceID), fmt.Sprintf(chunkFilePattern, chunkIndex))
}

// MergedFilePath 返回合并结果临时文件的路径。
func (s *ChunkStore) MergedFilePath(storageFilename string) string {
	return filepath.Join(s.tempDir, mergedFilePrefix+filepath.Base(storageFilename))
}

// WriteChunk 写入一个分片，目录不存在时创建；同一索引重复写入时直接覆盖，
// 以支持客户端的幂等重试。
func (s *ChunkStore) WriteChunk(resourceID string, chunkIndex int, reader io.Reader) (int64, error) {
	chunkDir := s.ChunkDir(resourceID)
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return 0, fmt.Errorf("创建分片目录失败: %w", err)
	}

	chunkPath := s.ChunkPath(resourceID, chunkIndex)
	f, err := os.Create(chunkPath)
	if err != nil {
		return 0, fmt.Errorf("创建分片文件失败: %w", err)
	}

	written, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("写入分片文件失败: %w", err)
	}
	return written, nil
}

// RemoveAll 递归删除资源的整个分片暂存目录。
// 在合并成功后调用，也作为失败补偿步骤调用。
func (s *ChunkStore) RemoveAll(resourceID string) error {
	return os.RemoveAll(s.ChunkDir(resourceID))
}

// SweepExpired 清理修改时间早于 expiry 的分片目录与合并临时文件，
// 防止只初始化从不完成的客户端无限占用磁盘。重叠执行是安全的。
func (s *ChunkStore) SweepExpired(expiry time.Duration) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		log.Warnf("[Sweep] 读取暂存目录失败: %v", err)
		return
	}

	now := time.Now()
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= expiry {
			continue
		}

		entryPath := filepath.Join(s.tempDir, entry.Name())
		switch {
		case entry.IsDir() && strings.HasPrefix(entry.Name(), chunkDirPrefix):
			log.Infof("[Sweep] 清理过期分片目录: %s", entryPath)
			if err := os.RemoveAll(entryPath); err != nil {
				log.Warnf("[Sweep] 清理分片目录失败: %s, error: %v", entryPath, err)
			}
		case !entry.IsDir() && strings.HasPrefix(entry.Name(), mergedFilePrefix):
			log.Infof("[Sweep] 清理过期合并文件: %s", entryPath)
			if err := os.Remove(entryPath); err != nil {
				log.Warnf("[Sweep] 清理合并文件失败: %s, error: %v", entryPath, err)
			}
		}
	}
}
