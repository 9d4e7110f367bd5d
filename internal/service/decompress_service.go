package service

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pai-resource-go/internal/config"
	"pai-resource-go/internal/model"
	"pai-resource-go/pkg/log"
	"pai-resource-go/pkg/storage"
)

// DecompressRequest 描述一次解压缩任务。
// 该结构与解压执行方的边界契约对应，执行方可以与管道同进程，
// 也可以部署为独立的 worker。
type DecompressRequest struct {
	FilePath      string
	DecompressDir string
	ResourceID    string
	ResourceType  string
	// UploadToStore 为真时将解压出的文件逐个上传到对象存储。
	UploadToStore bool
	Bucket        string
}

// DecompressResult 是解压缩的结果描述。
// 解压成功与入库成功是两个独立的结论：上传阶段失败不会推翻解压结论。
type DecompressResult struct {
	DecompressedFiles []string
	UploadedToStore   bool
	UploadedFiles     []string
}

// DecompressService 将压缩包解压到目录，并按分类规则路由到永久存储。
type DecompressService interface {
	Decompress(ctx context.Context, req DecompressRequest) (*DecompressResult, error)
}

// decompressService 是 DecompressService 的本地实现。
type decompressService struct {
	store storage.ObjectStore
	paths config.StoragePathsConfig
}

// NewDecompressService 创建一个新的 DecompressService 实例。
func NewDecompressService(store storage.ObjectStore, paths config.StoragePathsConfig) DecompressService {
	return &decompressService{store: store, paths: paths}
}

// Decompress 按扩展名分派解压方法，枚举解压出的文件，并在配置允许时上传入库。
// 解压失败（损坏的包、缺失外部工具、不支持的格式）对调用方是致命错误；
// 上传阶段的失败只体现在 UploadedToStore 标志上。
func (s *decompressService) Decompress(ctx context.Context, req DecompressRequest) (*DecompressResult, error) {
	log.Infof("[Decompress] 开始解压缩, resourceId: %s, filePath: %s, dir: %s",
		req.ResourceID, req.FilePath, req.DecompressDir)

	if _, err := os.Stat(req.FilePath); err != nil {
		return nil, fmt.Errorf("源文件不存在: %s", req.FilePath)
	}
	if err := os.MkdirAll(req.DecompressDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建解压缩目录失败: %w", err)
	}

	var err error
	lower := strings.ToLower(req.FilePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(req.FilePath, req.DecompressDir)
	case strings.HasSuffix(lower, ".tar"):
		err = extractTar(req.FilePath, req.DecompressDir, false)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = extractTar(req.FilePath, req.DecompressDir, true)
	case strings.HasSuffix(lower, ".gz"):
		err = extractGz(req.FilePath, req.DecompressDir)
	case strings.HasSuffix(lower, ".rar"):
		err = extractRar(ctx, req.FilePath, req.DecompressDir)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(req.FilePath))
	}
	if err != nil {
		return nil, err
	}

	files, err := listFiles(req.DecompressDir)
	if err != nil {
		return nil, fmt.Errorf("枚举解压文件失败: %w", err)
	}
	log.Infof("[Decompress] 解压缩完成, resourceId: %s, 文件数: %d", req.ResourceID, len(files))

	result := &DecompressResult{DecompressedFiles: files}

	if req.UploadToStore && s.store != nil {
		uploaded, uploadErr := s.uploadFiles(ctx, req, files)
		if uploadErr != nil {
			// 解压已成功，入库失败作为次要结论单独上报
			log.Errorf("[Decompress] 解压文件入库失败, resourceId: %s, error: %v", req.ResourceID, uploadErr)
		} else {
			result.UploadedToStore = true
			result.UploadedFiles = uploaded
		}
	}

	return result, nil
}

// uploadFiles 将解压出的文件逐个上传，单个文件失败不中断批次。
func (s *decompressService) uploadFiles(ctx context.Context, req DecompressRequest, files []string) ([]string, error) {
	if err := s.store.EnsureBucket(ctx, req.Bucket); err != nil {
		return nil, err
	}

	uploaded := make([]string, 0, len(files))
	for _, relPath := range files {
		fullPath := filepath.Join(req.DecompressDir, relPath)

		var storagePath string
		if req.ResourceType == model.TypeSampleGroup {
			storagePath = DecompressPathFor(model.TypeSampleGroup, req.ResourceID, s.paths)
		} else {
			storagePath = ClassifyStoragePath(fullPath, s.paths)
		}

		objectName := storagePath + filepath.ToSlash(relPath)
		if err := s.store.FPutObject(ctx, req.Bucket, objectName, fullPath); err != nil {
			log.Warnf("[Decompress] 文件上传失败: %s, error: %v", objectName, err)
			continue
		}
		log.Infof("[Decompress] 文件上传成功: %s", objectName)
		uploaded = append(uploaded, objectName)
	}
	return uploaded, nil
}

// extractZip 解压 ZIP 包的全部条目。
func extractZip(filePath, destDir string) error {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return fmt.Errorf("打开ZIP文件失败: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("读取ZIP条目失败: %w", err)
		}
		err = writeFileFrom(target, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// extractTar 流式解压 TAR 包；gzipped 为真时先经过 gunzip，不落中间临时文件。
func extractTar(filePath, destDir string, gzipped bool) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var reader io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("读取GZIP流失败: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("读取TAR条目失败: %w", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFileFrom(target, tr); err != nil {
				return err
			}
		}
	}
}

// extractGz 解压单文件 GZ，输出文件名由去掉 .gz 扩展名得到。
func extractGz(filePath, destDir string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("读取GZIP流失败: %w", err)
	}
	defer gz.Close()

	outputPath := filepath.Join(destDir, strings.TrimSuffix(filepath.Base(filePath), ".gz"))
	return writeFileFrom(outputPath, gz)
}

// extractRar 委托宿主机上的 unrar 工具解压 RAR 包。
func extractRar(ctx context.Context, filePath, destDir string) error {
	cmd := exec.CommandContext(ctx, "unrar", "x", "-o+", filePath, destDir+string(os.PathSeparator))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("RAR解压缩失败: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// listFiles 递归枚举目录下的所有普通文件，返回相对路径（不含目录项）。
func listFiles(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

// safeJoin 拼接解压目标路径，拒绝逃逸出目标目录的条目。
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("非法的压缩包条目路径: %s", name)
	}
	return target, nil
}

// writeFileFrom 将 reader 的内容写入目标文件。
func writeFileFrom(target string, reader io.Reader) error {
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, reader)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return err
}
