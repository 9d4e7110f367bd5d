package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pai-resource-go/internal/config"
	"pai-resource-go/internal/model"
	"pai-resource-go/internal/repository"
	"pai-resource-go/internal/staging"
	"pai-resource-go/pkg/kafka"
	"pai-resource-go/pkg/limiter"
	"pai-resource-go/pkg/log"
	"pai-resource-go/pkg/storage"
	"pai-resource-go/pkg/tasks"
)

// originalFileDir 是所有原始上传对象在存储桶内的统一前缀。
const originalFileDir = "originalFile/"

// InitUploadInput 是初始化上传的入参。
type InitUploadInput struct {
	OriginalFilename string
	MimeType         string
	Size             int64
	Type             string
	Etag             string
	Metadata         model.Metadata
}

// InitUploadResult 是初始化上传的返回结果。
type InitUploadResult struct {
	ResourceID      string `json:"resourceId"`
	NeedChunkUpload bool   `json:"needChunkUpload"`
	ChunkSize       int64  `json:"chunkSize,omitempty"`
	ChunkTotal      int    `json:"chunkTotal,omitempty"`
}

// UploadFileResult 是单次直传的返回结果。
type UploadFileResult struct {
	ResourceID string `json:"resourceId"`
	StorageKey string `json:"storageKey"`
}

// ChunkUploadInput 是分片上传的入参。
type ChunkUploadInput struct {
	ResourceID string
	ChunkIndex int
	ChunkSize  int64
	File       io.Reader
}

// ChunkUploadResult 是分片上传的返回结果。
type ChunkUploadResult struct {
	ResourceID     string `json:"resourceId"`
	ChunkIndex     int    `json:"chunkIndex"`
	Uploaded       bool   `json:"uploaded"`
	UploadedChunks int    `json:"uploadedChunks"`
	TotalChunks    int    `json:"totalChunks"`
	AllUploaded    bool   `json:"allUploaded"`
}

// MergeChunksResult 是分片合并的返回结果。
type MergeChunksResult struct {
	ResourceID string `json:"resourceId"`
	Merged     bool   `json:"merged"`
	FilePath   string `json:"filePath"`
}

// ResourceService 驱动资源的完整入库生命周期：
// 初始化 → 上传（单次或分片）→ 合并 → 解压缩 → 永久存储。
type ResourceService interface {
	InitUpload(ctx context.Context, input InitUploadInput, userID string) (*InitUploadResult, error)
	UploadFile(ctx context.Context, resourceID string, file io.Reader, size int64, mimeType string) (*UploadFileResult, error)
	UploadChunk(ctx context.Context, input ChunkUploadInput) (*ChunkUploadResult, error)
	MergeChunks(ctx context.Context, resourceID string) (*MergeChunksResult, error)
	DeleteResource(ctx context.Context, resourceID string) error
	GetResourceDetail(resourceID string) (*model.Resource, error)
	GetResourceList(query repository.ResourceQuery) ([]model.Resource, int64, error)
}

type resourceService struct {
	repo          repository.ResourceRepository
	store         storage.ObjectStore
	chunks        *staging.ChunkStore
	limiter       limiter.Limiter
	mergeSvc      MergeService
	decompressSvc DecompressService
	uploadCfg     config.UploadConfig
	bucket        string
	paths         config.StoragePathsConfig
}

// NewResourceService 创建一个新的 ResourceService 实例。
func NewResourceService(
	repo repository.ResourceRepository,
	store storage.ObjectStore,
	chunks *staging.ChunkStore,
	lim limiter.Limiter,
	mergeSvc MergeService,
	decompressSvc DecompressService,
	uploadCfg config.UploadConfig,
	bucket string,
	paths config.StoragePathsConfig,
) ResourceService {
	return &resourceService{
		repo:          repo,
		store:         store,
		chunks:        chunks,
		limiter:       lim,
		mergeSvc:      mergeSvc,
		decompressSvc: decompressSvc,
		uploadCfg:     uploadCfg,
		bucket:        bucket,
		paths:         paths,
	}
}

// InitUpload 初始化文件上传：生成防碰撞的存储文件名，按声明大小决定
// 单次直传还是分片上传，并创建对应初始状态的资源记录。
func (s *resourceService) InitUpload(ctx context.Context, input InitUploadInput, userID string) (*InitUploadResult, error) {
	if input.OriginalFilename == "" || input.Size <= 0 {
		return nil, errors.New("原始文件名和文件大小不能为空")
	}
	if !model.ValidType(input.Type) {
		return nil, fmt.Errorf("非法的资源类型: %s", input.Type)
	}

	resourceID := uuid.NewString()
	filename := originalFileDir + hashedFilename(input.OriginalFilename)

	needChunkUpload := input.Size > s.uploadCfg.MaxSingleSize
	resource := &model.Resource{
		ID:               resourceID,
		Filename:         filename,
		OriginalFilename: input.OriginalFilename,
		MimeType:         input.MimeType,
		Size:             input.Size,
		Status:           model.StatusInit,
		Type:             input.Type,
		Etag:             input.Etag,
		UserID:           userID,
		Metadata:         input.Metadata,
	}

	result := &InitUploadResult{ResourceID: resourceID, NeedChunkUpload: needChunkUpload}
	if needChunkUpload {
		resource.Status = model.StatusChunkUploading
		resource.ChunkSize = s.uploadCfg.ChunkSize
		resource.ChunkTotal = int(math.Ceil(float64(input.Size) / float64(s.uploadCfg.ChunkSize)))
		resource.ChunkUploaded = model.IntList{}
		result.ChunkSize = resource.ChunkSize
		result.ChunkTotal = resource.ChunkTotal
	}

	if err := s.repo.Create(resource); err != nil {
		log.Errorf("[InitUpload] 创建资源记录失败, error: %v", err)
		return nil, err
	}

	log.Infof("[InitUpload] 初始化上传成功, resourceId: %s, 分片上传: %v, 分片数: %d",
		resourceID, needChunkUpload, resource.ChunkTotal)
	return result, nil
}

// UploadFile 处理单次直传：落临时文件、校验大小、上传对象存储，
// 随后按资源类型直接入库或交给解压缩环节。临时文件在任何结果下都会被删除。
func (s *resourceService) UploadFile(ctx context.Context, resourceID string, file io.Reader, size int64, mimeType string) (*UploadFileResult, error) {
	resource, err := s.getResource(resourceID)
	if err != nil {
		return nil, err
	}
	if resource.Status != model.StatusInit && resource.Status != model.StatusChunkUploading {
		return nil, fmt.Errorf("%w，无法上传 (当前状态: %s)", ErrInvalidState, resource.Status)
	}
	if size != resource.Size {
		return nil, fmt.Errorf("%w (期望: %d, 实际: %d)", ErrSizeMismatch, resource.Size, size)
	}

	if err := s.repo.Update(resourceID, map[string]interface{}{
		"status":    model.StatusUploading,
		"mime_type": mimeType,
	}); err != nil {
		return nil, err
	}
	resource.MimeType = mimeType

	// 先落临时文件：需要解压缩的类型在对象上传后还要从本地读取
	tempPath := filepath.Join(s.chunks.TempDir(), "temp_"+filepath.Base(resource.Filename))
	written, err := writeTempFile(tempPath, file)
	if err != nil {
		s.markFailed(resourceID, fmt.Sprintf("保存上传文件失败: %v", err))
		return nil, err
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			log.Warnf("[UploadFile] 删除临时文件失败: %s, error: %v", tempPath, err)
		}
	}()

	if written != resource.Size {
		s.markFailed(resourceID, fmt.Sprintf("文件大小不匹配 (期望: %d, 实际: %d)", resource.Size, written))
		return nil, fmt.Errorf("%w (期望: %d, 实际: %d)", ErrSizeMismatch, resource.Size, written)
	}

	if err := s.store.FPutObject(ctx, s.bucket, resource.Filename, tempPath); err != nil {
		s.markFailed(resourceID, fmt.Sprintf("对象存储上传失败: %v", err))
		return nil, fmt.Errorf("对象存储上传失败: %w", err)
	}

	filePath := s.store.ObjectURL(s.bucket, resource.Filename)
	if err := s.finalizeByType(ctx, resource, filePath, tempPath); err != nil {
		return nil, err
	}

	return &UploadFileResult{ResourceID: resourceID, StorageKey: resource.Filename}, nil
}

// UploadChunk 处理单个分片的上传：校验索引与分片大小，经并发限制器护栏后
// 覆盖写入暂存目录，并以去重有序列表记录上传进度。
func (s *resourceService) UploadChunk(ctx context.Context, input ChunkUploadInput) (*ChunkUploadResult, error) {
	resource, err := s.getResource(input.ResourceID)
	if err != nil {
		return nil, err
	}
	if resource.Status != model.StatusChunkUploading {
		return nil, fmt.Errorf("%w，无法分片上传 (当前状态: %s)", ErrInvalidState, resource.Status)
	}
	if resource.ChunkTotal <= 0 || resource.ChunkSize <= 0 {
		return nil, ErrChunkConfig
	}
	if input.ChunkIndex < 0 || input.ChunkIndex >= resource.ChunkTotal {
		return nil, fmt.Errorf("%w (索引: %d, 分片总数: %d)", ErrChunkIndexOutOfRange, input.ChunkIndex, resource.ChunkTotal)
	}

	// 除最后一个分片外，每个分片必须恰好等于配置的分片大小
	isLastChunk := input.ChunkIndex == resource.ChunkTotal-1
	if !isLastChunk && input.ChunkSize != resource.ChunkSize {
		return nil, fmt.Errorf("分片大小错误，应为%d字节 (实际: %d)", resource.ChunkSize, input.ChunkSize)
	}
	if isLastChunk && input.ChunkSize > resource.ChunkSize {
		return nil, fmt.Errorf("最后一个分片大小不能超过%d字节 (实际: %d)", resource.ChunkSize, input.ChunkSize)
	}

	granted, current := s.limiter.Acquire(ctx, input.ResourceID)
	if !granted {
		return nil, fmt.Errorf("%w（%d/%d），请稍后重试", ErrConcurrencyLimit, current, s.uploadCfg.ConcurrentLimit)
	}
	defer s.limiter.Release(ctx, input.ResourceID)

	if _, err := s.chunks.WriteChunk(input.ResourceID, input.ChunkIndex, input.File); err != nil {
		return nil, fmt.Errorf("分片上传失败: %w", err)
	}

	// 去重并排序，保证分片列表的唯一性和有序性；重复上传只记录一次
	chunkUploaded := dedupeSorted(append(resource.ChunkUploaded, input.ChunkIndex))
	if err := s.repo.UpdateChunkUploaded(input.ResourceID, chunkUploaded); err != nil {
		return nil, fmt.Errorf("更新分片进度失败: %w", err)
	}

	allUploaded := len(chunkUploaded) == resource.ChunkTotal
	log.Infof("[UploadChunk] 分片上传成功, resourceId: %s, 分片: %d, 进度: %d/%d",
		input.ResourceID, input.ChunkIndex, len(chunkUploaded), resource.ChunkTotal)

	return &ChunkUploadResult{
		ResourceID:     input.ResourceID,
		ChunkIndex:     input.ChunkIndex,
		Uploaded:       true,
		UploadedChunks: len(chunkUploaded),
		TotalChunks:    resource.ChunkTotal,
		AllUploaded:    allUploaded,
	}, nil
}

// MergeChunks 合并已齐全的分片、上传合并产物到对象存储，
// 并按资源类型完成直接入库或解压缩入库。
// 合并临时文件与分片暂存目录在任何结果下都会被清理。
func (s *resourceService) MergeChunks(ctx context.Context, resourceID string) (*MergeChunksResult, error) {
	resource, err := s.getResource(resourceID)
	if err != nil {
		return nil, err
	}
	if resource.Status != model.StatusChunkUploading {
		return nil, fmt.Errorf("%w，无法合并分片 (当前状态: %s)", ErrInvalidState, resource.Status)
	}
	if resource.ChunkTotal <= 0 || resource.ChunkSize <= 0 || resource.ChunkUploaded == nil {
		return nil, ErrChunkConfig
	}
	if !resource.AllChunksUploaded() {
		return nil, fmt.Errorf("%w (期望: %d, 实际: %d)", ErrIncompleteChunks, resource.ChunkTotal, len(resource.ChunkUploaded))
	}

	if err := s.repo.Update(resourceID, map[string]interface{}{
		"status": model.StatusMerging,
	}); err != nil {
		return nil, err
	}

	chunkDir := s.chunks.ChunkDir(resourceID)
	mergedFilePath := s.chunks.MergedFilePath(resource.Filename)

	// 无论成败都不能留下暂存产物
	defer func() {
		if err := os.Remove(mergedFilePath); err != nil && !os.IsNotExist(err) {
			log.Warnf("[MergeChunks] 删除合并临时文件失败: %s, error: %v", mergedFilePath, err)
		}
		if err := s.chunks.RemoveAll(resourceID); err != nil {
			log.Warnf("[MergeChunks] 删除分片暂存目录失败, resourceId: %s, error: %v", resourceID, err)
		}
	}()

	mergeResult, err := s.mergeSvc.MergeChunks(ctx, MergeRequest{
		ResourceID:     resourceID,
		ChunkDir:       chunkDir,
		MergedFilePath: mergedFilePath,
		ChunkTotal:     resource.ChunkTotal,
		DeclaredSize:   resource.Size,
		ExpectedMD5:    resource.Etag,
	})
	if err != nil {
		s.markFailed(resourceID, err.Error())
		return nil, err
	}

	if err := s.repo.Update(resourceID, map[string]interface{}{
		"status": model.StatusMerged,
		"md5":    mergeResult.MD5,
	}); err != nil {
		return nil, err
	}

	// 上传合并后的文件到对象存储
	merged, err := os.Open(mergedFilePath)
	if err != nil {
		s.markFailed(resourceID, fmt.Sprintf("读取合并文件失败: %v", err))
		return nil, err
	}
	err = s.store.PutObject(ctx, s.bucket, resource.Filename, merged, mergeResult.Size, resource.MimeType)
	merged.Close()
	if err != nil {
		s.markFailed(resourceID, fmt.Sprintf("对象存储上传失败: %v", err))
		return nil, fmt.Errorf("对象存储上传失败: %w", err)
	}

	filePath := s.store.ObjectURL(s.bucket, resource.Filename)
	if err := s.finalizeByType(ctx, resource, filePath, mergedFilePath); err != nil {
		return nil, err
	}

	log.Infof("[MergeChunks] 资源合并入库完成, resourceId: %s", resourceID)
	return &MergeChunksResult{ResourceID: resourceID, Merged: true, FilePath: filePath}, nil
}

// DeleteResource 尽力删除对象存储中的制品（失败仅记录日志），
// 随后逻辑删除资源记录，保留审计痕迹。
func (s *resourceService) DeleteResource(ctx context.Context, resourceID string) error {
	resource, err := s.getResource(resourceID)
	if err != nil {
		return err
	}

	if resource.FilePath != "" {
		if bucket, key, ok := storage.ParseObjectURL(resource.FilePath); ok {
			if err := s.store.RemoveObject(ctx, bucket, key); err != nil {
				log.Errorf("[DeleteResource] 删除对象存储文件失败, resourceId: %s, error: %v", resourceID, err)
			}
		}
	}

	if err := s.repo.SoftDelete(resourceID); err != nil {
		return err
	}
	log.Infof("[DeleteResource] 资源已逻辑删除, resourceId: %s", resourceID)
	return nil
}

// GetResourceDetail 获取资源详情。
func (s *resourceService) GetResourceDetail(resourceID string) (*model.Resource, error) {
	return s.getResource(resourceID)
}

// GetResourceList 按条件分页查询资源列表。
func (s *resourceService) GetResourceList(query repository.ResourceQuery) ([]model.Resource, int64, error) {
	return s.repo.List(query)
}

// finalizeByType 在原始对象入库后按资源类型收尾：picture/other 直接置为
// stored，需要解压缩的类型进入解压缩环节并以解压目录作为最终访问地址。
func (s *resourceService) finalizeByType(ctx context.Context, resource *model.Resource, filePath, localPath string) error {
	if resource.Type == model.TypePicture || resource.Type == model.TypeOther {
		if err := s.repo.Update(resource.ID, map[string]interface{}{
			"file_path": filePath,
			"path":      filePath,
			"status":    model.StatusStored,
		}); err != nil {
			return err
		}
		s.publishStored(resource, filePath)
		return nil
	}

	// 初始 path 与 filePath 相同，解压缩成功后更新为解压目录地址
	if err := s.repo.Update(resource.ID, map[string]interface{}{
		"file_path": filePath,
		"path":      filePath,
		"status":    model.StatusUploaded,
	}); err != nil {
		return err
	}
	return s.decompressResource(ctx, resource, localPath)
}

// decompressResource 调用解压缩环节并根据结果终结资源状态。
// 解压失败将资源置为 failed 并记录原因；解压出的文件入库失败
// 不推翻解压结论（由 DecompressService 内部记录）。
func (s *resourceService) decompressResource(ctx context.Context, resource *model.Resource, localPath string) error {
	if err := s.repo.Update(resource.ID, map[string]interface{}{
		"status": model.StatusDecompressing,
	}); err != nil {
		return err
	}

	decompressDir := filepath.Join(s.uploadCfg.DecompressBaseDir, resource.ID)
	result, err := s.decompressSvc.Decompress(ctx, DecompressRequest{
		FilePath:      localPath,
		DecompressDir: decompressDir,
		ResourceID:    resource.ID,
		ResourceType:  resource.Type,
		UploadToStore: true,
		Bucket:        s.bucket,
	})
	if err != nil {
		s.markFailed(resource.ID, fmt.Sprintf("解压缩失败: %v", err))
		return fmt.Errorf("解压缩失败: %w", err)
	}

	log.Infof("[Decompress] 资源解压完成, resourceId: %s, 文件数: %d, 已入库: %v",
		resource.ID, len(result.DecompressedFiles), result.UploadedToStore)
	if err := s.repo.Update(resource.ID, map[string]interface{}{
		"status": model.StatusDecompressed,
	}); err != nil {
		return err
	}

	finalPath := s.store.ObjectURL(s.bucket, DecompressPathFor(resource.Type, resource.ID, s.paths))
	if err := s.repo.Update(resource.ID, map[string]interface{}{
		"path":   finalPath,
		"status": model.StatusStored,
	}); err != nil {
		return err
	}
	s.publishStored(resource, finalPath)
	return nil
}

// publishStored 发送资源入库完成事件，发送失败不影响主流程。
func (s *resourceService) publishStored(resource *model.Resource, path string) {
	event := tasks.ResourceStoredEvent{
		ResourceID:       resource.ID,
		OriginalFilename: resource.OriginalFilename,
		Type:             resource.Type,
		Path:             path,
		Size:             resource.Size,
		UserID:           resource.UserID,
	}
	if err := kafka.ProduceResourceStored(event); err != nil {
		log.Warnf("[Pipeline] 发送资源入库事件失败, resourceId: %s, error: %v", resource.ID, err)
		return
	}
	log.Infof("[Pipeline] 资源入库事件已发送, resourceId: %s", resource.ID)
}

// markFailed 将资源置为失败态并记录可读的失败原因。
func (s *resourceService) markFailed(resourceID, reason string) {
	if err := s.repo.Update(resourceID, map[string]interface{}{
		"status":        model.StatusFailed,
		"failed_reason": reason,
	}); err != nil {
		log.Errorf("[Pipeline] 更新资源失败状态时出错, resourceId: %s, error: %v", resourceID, err)
	}
}

// getResource 检索资源记录，不存在或已逻辑删除时返回 ErrResourceNotFound。
func (s *resourceService) getResource(resourceID string) (*model.Resource, error) {
	resource, err := s.repo.FindByID(resourceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	return resource, nil
}

// hashedFilename 生成防碰撞的存储文件名：原始名+时间戳+随机ID 的 MD5，保留扩展名。
func hashedFilename(originalFilename string) string {
	seed := fmt.Sprintf("%s_%d_%s", originalFilename, time.Now().UnixMilli(), uuid.NewString())
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:]) + fileExt(originalFilename)
}

// fileExt 返回文件扩展名，.tar.gz 作为整体保留，解压缩环节依赖它识别格式。
func fileExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".tar.gz") {
		return name[len(name)-len(".tar.gz"):]
	}
	return filepath.Ext(name)
}

// dedupeSorted 去重并升序排序分片索引列表。
func dedupeSorted(indexes model.IntList) model.IntList {
	seen := make(map[int]struct{}, len(indexes))
	out := make(model.IntList, 0, len(indexes))
	for _, idx := range indexes {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// writeTempFile 将上传内容写入临时文件并返回写入字节数。
func writeTempFile(path string, reader io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return written, err
}
