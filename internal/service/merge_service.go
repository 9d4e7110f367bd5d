package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pai-resource-go/pkg/log"
)

// MergeRequest 描述一次分片合并任务。
// 该结构与合并执行方的边界契约对应，执行方可以与管道同进程，
// 也可以部署为独立的 worker。
type MergeRequest struct {
	ResourceID     string
	ChunkDir       string
	MergedFilePath string
	ChunkTotal     int
	// DeclaredSize 调用方声明的文件总大小，仅在严格校验开启时检查。
	DeclaredSize int64
	// ExpectedMD5 为空时跳过校验。
	ExpectedMD5 string
}

// MergeResult 是合并成功后的产物描述。
type MergeResult struct {
	MergedFilePath string
	Size           int64
	MD5            string
}

// MergeService 将一个资源的全部分片按索引顺序合并为单个文件。
type MergeService interface {
	MergeChunks(ctx context.Context, req MergeRequest) (*MergeResult, error)
}

// mergeService 是 MergeService 的本地实现。
type mergeService struct {
	// strictSizeCheck 控制合并后是否校验实际大小与声明大小一致。
	strictSizeCheck bool
}

// NewMergeService 创建一个新的 MergeService 实例。
func NewMergeService(strictSizeCheck bool) MergeService {
	return &mergeService{strictSizeCheck: strictSizeCheck}
}

// MergeChunks 按索引顺序流式合并全部分片并计算 MD5。
// 合并中途出错时，已写入的部分目标文件会被删除后再返回错误。
func (s *mergeService) MergeChunks(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	log.Infof("[MergeChunks] 开始合并分片, resourceId: %s, 分片数: %d", req.ResourceID, req.ChunkTotal)

	if _, err := os.Stat(req.ChunkDir); err != nil {
		return nil, fmt.Errorf("分片目录不存在: %s", req.ChunkDir)
	}

	// 前置检查：所有分片索引 0..chunkTotal-1 必须齐全
	for i := 0; i < req.ChunkTotal; i++ {
		chunkPath := filepath.Join(req.ChunkDir, fmt.Sprintf("chunk_%d", i))
		if _, err := os.Stat(chunkPath); err != nil {
			return nil, &MissingChunkError{Index: i, Path: chunkPath}
		}
	}

	if err := s.appendAllChunks(ctx, req); err != nil {
		// 不留下部分写入的产物
		_ = os.Remove(req.MergedFilePath)
		return nil, err
	}

	info, err := os.Stat(req.MergedFilePath)
	if err != nil {
		return nil, fmt.Errorf("读取合并文件信息失败: %w", err)
	}
	log.Debugf("[MergeChunks] 预期大小 = %d bytes, 实际合并后大小 = %d bytes", req.DeclaredSize, info.Size())

	if s.strictSizeCheck && req.DeclaredSize > 0 && info.Size() != req.DeclaredSize {
		_ = os.Remove(req.MergedFilePath)
		return nil, fmt.Errorf("%w (期望: %d, 实际: %d)", ErrSizeMismatch, req.DeclaredSize, info.Size())
	}

	fileMD5, err := fileMD5Hex(req.MergedFilePath)
	if err != nil {
		_ = os.Remove(req.MergedFilePath)
		return nil, fmt.Errorf("计算合并文件MD5失败: %w", err)
	}
	if req.ExpectedMD5 != "" && req.ExpectedMD5 != fileMD5 {
		_ = os.Remove(req.MergedFilePath)
		return nil, ErrChecksumMismatch
	}

	log.Infof("[MergeChunks] 分片合并成功, resourceId: %s, size: %d, md5: %s", req.ResourceID, info.Size(), fileMD5)
	return &MergeResult{
		MergedFilePath: req.MergedFilePath,
		Size:           info.Size(),
		MD5:            fileMD5,
	}, nil
}

// appendAllChunks 创建（截断）目标文件后，严格按索引升序逐个追加分片字节。
// 顺序追加保证最终文件字节序与索引序一致，单一写入流避免整文件载入内存。
func (s *mergeService) appendAllChunks(ctx context.Context, req MergeRequest) error {
	dst, err := os.Create(req.MergedFilePath)
	if err != nil {
		return fmt.Errorf("创建合并文件失败: %w", err)
	}
	defer dst.Close()

	for i := 0; i < req.ChunkTotal; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunkPath := filepath.Join(req.ChunkDir, fmt.Sprintf("chunk_%d", i))
		src, err := os.Open(chunkPath)
		if err != nil {
			return &MissingChunkError{Index: i, Path: chunkPath}
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("追加分片 %d 失败: %w", i, err)
		}
	}

	if err := dst.Sync(); err != nil {
		return fmt.Errorf("刷新合并文件失败: %w", err)
	}
	return nil
}

// fileMD5Hex 以流式摘要计算文件的 MD5。
func fileMD5Hex(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
