package service

import (
	"os"
	"path/filepath"
	"strings"

	"pai-resource-go/internal/config"
	"pai-resource-go/internal/model"
)

// classifyRule 是一条按扩展名匹配的分类规则。sniff 为真时还需要
// 在文件内容中命中关键字才采用该规则。
type classifyRule struct {
	extensions []string
	keywords   []string
	pathOf     func(paths config.StoragePathsConfig) string
}

// classifyRules 是有序规则表，自上而下第一条命中的规则生效。
var classifyRules = []classifyRule{
	{
		extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg"},
		pathOf:     func(p config.StoragePathsConfig) string { return p.Picture },
	},
	{
		extensions: []string{".py", ".java", ".cpp", ".c", ".h", ".js", ".ts"},
		pathOf:     func(p config.StoragePathsConfig) string { return p.Algorithm },
	},
	{
		extensions: []string{".pth", ".h5", ".pt", ".model", ".pb", ".onnx"},
		pathOf:     func(p config.StoragePathsConfig) string { return p.Model },
	},
	{
		// 算法镜像压缩包归入 image 路径
		extensions: []string{".tar", ".tar.gz", ".tgz", ".zip", ".gz"},
		pathOf:     func(p config.StoragePathsConfig) string { return p.Image },
	},
	{
		// 文本/结构化数据按内容判断是否为样本数据
		extensions: []string{".csv", ".json", ".xml", ".txt"},
		keywords:   []string{"label", "feature", "sample"},
		pathOf:     func(p config.StoragePathsConfig) string { return p.SampleGroup },
	},
}

// ClassifyStoragePath 根据文件扩展名（必要时抽样文件内容）决定其在对象存储中的
// 路径前缀。规则表之外的文件落入 other 路径。
func ClassifyStoragePath(filePath string, paths config.StoragePathsConfig) string {
	ext := strings.ToLower(filepath.Ext(filePath))

	for _, rule := range classifyRules {
		if !matchExt(rule.extensions, ext) {
			continue
		}
		if len(rule.keywords) == 0 {
			return rule.pathOf(paths)
		}
		if contentContainsAny(filePath, rule.keywords) {
			return rule.pathOf(paths)
		}
	}
	return paths.Other
}

// DecompressPathFor 返回资源解压缩后在对象存储中的目录前缀。
// sample_group 使用 resourceId 作为唯一目录段，同一逻辑数据集的重复
// 上传总是落入同一目录（幂等重跑语义）。
func DecompressPathFor(resourceType, resourceID string, paths config.StoragePathsConfig) string {
	switch resourceType {
	case model.TypeSampleGroup:
		return strings.TrimSuffix(paths.SampleGroup, "/") + "/" + resourceID + "/"
	case model.TypeImage:
		return paths.Image
	case model.TypeAlgorithmPackage:
		return paths.Algorithm
	case model.TypeModel:
		return paths.Model
	case model.TypePicture:
		return paths.Picture
	default:
		return paths.Other
	}
}

func matchExt(extensions []string, ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// contentContainsAny 读取文件内容并检查是否包含任一关键字，读取失败按未命中处理。
func contentContainsAny(filePath string, keywords []string) bool {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return false
	}
	content := string(data)
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}
