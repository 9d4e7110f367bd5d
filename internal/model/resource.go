// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// 资源类型枚举
const (
	TypeSampleGroup      = "sample_group"      // 样本组
	TypeImage            = "image"             // 镜像
	TypeAlgorithmPackage = "algorithm_package" // 算法包
	TypeModel            = "model"             // 模型文件
	TypePicture          = "picture"           // 图片文件
	TypeOther            = "other"             // 其他
)

// 资源状态枚举
const (
	StatusInit           = "init"            // 初始化
	StatusUploading      = "uploading"       // 上传中
	StatusChunkUploading = "chunk_uploading" // 分片上传中
	StatusUploaded       = "uploaded"        // 已上传
	StatusMerging        = "merging"         // 合并中
	StatusMerged         = "merged"          // 已合并
	StatusDecompressing  = "decompressing"   // 解压缩中
	StatusDecompressed   = "decompressed"    // 已解压缩
	StatusStored         = "stored"          // 已存储
	StatusFailed         = "failed"          // 失败
)

// ValidType 判断给定字符串是否为合法的资源类型。
func ValidType(t string) bool {
	switch t {
	case TypeSampleGroup, TypeImage, TypeAlgorithmPackage, TypeModel, TypePicture, TypeOther:
		return true
	}
	return false
}

// NeedDecompress 判断资源类型是否需要解压缩入库。
// sample_group、image、algorithm_package、model 以压缩包形式上传，需要解压。
func NeedDecompress(t string) bool {
	switch t {
	case TypeSampleGroup, TypeImage, TypeAlgorithmPackage, TypeModel:
		return true
	}
	return false
}

// IntList 是以 JSON 形式存储在数据库中的整数列表，用于记录已上传分片索引。
type IntList []int

// Value 实现 driver.Valuer，将列表序列化为 JSON。
func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner，从 JSON 反序列化列表。
func (l *IntList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return errors.New("不支持的 IntList 列类型")
}

// Metadata 是以 JSON 形式存储的自由键值对。
type Metadata map[string]interface{}

// Value 实现 driver.Valuer。
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner。
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("不支持的 Metadata 列类型")
}

// Resource 定义了 resource 表的 ORM 模型。
// 它记录了一次逻辑上传的元数据与处理生命周期。
type Resource struct {
	ID               string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Filename         string         `gorm:"type:varchar(255);not null" json:"filename"`                      // 生成的存储文件名
	OriginalFilename string         `gorm:"type:varchar(255);not null" json:"originalFilename"`              // 原始文件名
	MimeType         string         `gorm:"type:varchar(255)" json:"mimeType"`                               // 文件 MIME 类型
	Size             int64          `gorm:"not null" json:"size"`                                            // 声明的文件大小（字节）
	FilePath         string         `gorm:"type:varchar(512)" json:"filePath"`                               // 上传文件的源地址
	Path             string         `gorm:"type:varchar(512)" json:"path"`                                   // 最终访问地址（解压缩后目录或直接访问地址）
	Status           string         `gorm:"type:varchar(32);not null;default:init" json:"status"`            // 资源状态
	Type             string         `gorm:"type:varchar(32);not null;default:other" json:"type"`             // 资源类型
	Etag             string         `gorm:"type:varchar(255)" json:"etag"`                                   // 调用方提供的文件校验值
	MD5              string         `gorm:"type:varchar(64);column:md5" json:"md5"`                          // 合并后计算的 MD5
	ChunkSize        int64          `gorm:"default:0" json:"chunkSize"`                                      // 分片大小（字节），仅分片上传时有值
	ChunkTotal       int            `gorm:"default:0" json:"chunkTotal"`                                     // 分片总数，仅分片上传时有值
	ChunkUploaded    IntList        `gorm:"type:json" json:"chunkUploaded"`                                  // 已上传分片索引列表（去重有序）
	FailedReason     string         `gorm:"type:varchar(512)" json:"failedReason"`                           // 失败原因
	UserID           string         `gorm:"type:varchar(36);not null" json:"userId"`                         // 上传用户ID
	Metadata         Metadata       `gorm:"type:json" json:"metadata"`                                       // 附加元数据
	CreatedTime      time.Time      `gorm:"autoCreateTime" json:"createdTime"`
	UpdatedTime      time.Time      `gorm:"autoUpdateTime" json:"updatedTime"`
	DeletedTime      gorm.DeletedAt `gorm:"index" json:"-"` // 逻辑删除时间，记录从不物理删除
}

// TableName 指定了此模型在数据库中对应的表名。
func (Resource) TableName() string {
	return "resource"
}

// AllChunksUploaded 判断分片是否已全部上传。
func (r *Resource) AllChunksUploaded() bool {
	return r.ChunkTotal > 0 && len(r.ChunkUploaded) == r.ChunkTotal
}
