// Package service 包含了资源入库管道的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// 管道对外暴露的错误分类。
var (
	// ErrResourceNotFound 资源不存在或已被逻辑删除。
	ErrResourceNotFound = errors.New("资源不存在，请先初始化上传")
	// ErrInvalidState 当前资源状态下不允许该操作。
	ErrInvalidState = errors.New("资源状态错误")
	// ErrSizeMismatch 上传字节数与声明大小不一致。
	ErrSizeMismatch = errors.New("文件大小不匹配")
	// ErrChecksumMismatch 合并后文件校验值与期望不一致。
	ErrChecksumMismatch = errors.New("文件校验失败，MD5不匹配")
	// ErrIncompleteChunks 分片未全部上传，无法合并。
	ErrIncompleteChunks = errors.New("分片未完全上传或配置错误")
	// ErrUnsupportedFormat 不支持的压缩文件格式。
	ErrUnsupportedFormat = errors.New("不支持的压缩文件格式")
	// ErrConcurrencyLimit 同一资源的分片上传并发已达上限。
	ErrConcurrencyLimit = errors.New("分片上传并发数已达上限")
	// ErrChunkConfig 资源缺少分片配置（chunkSize/chunkTotal）。
	ErrChunkConfig = errors.New("资源分片配置错误")
	// ErrChunkIndexOutOfRange 分片索引超出范围。
	ErrChunkIndexOutOfRange = errors.New("分片索引超出范围")
)

// MissingChunkError 表示合并前置检查发现某个分片缺失。
type MissingChunkError struct {
	Index int
	Path  string
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("分片文件不存在: %s (索引 %d)", e.Path, e.Index)
}
