// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"gorm.io/gorm"

	"pai-resource-go/internal/model"
)

// ResourceQuery 描述资源列表查询的过滤与分页条件。
type ResourceQuery struct {
	ID               string
	OriginalFilename string
	Type             string
	Status           string
	CreatedTimeStart *time.Time
	CreatedTimeEnd   *time.Time
	Current          int
	PageSize         int
}

// ResourceRepository 接口定义了资源记录的数据持久化操作。
type ResourceRepository interface {
	Create(resource *model.Resource) error
	// FindByID 按 id 检索未被逻辑删除的资源记录。
	FindByID(id string) (*model.Resource, error)
	// Update 按 id 更新给定字段。
	Update(id string, fields map[string]interface{}) error
	// UpdateChunkUploaded 覆盖写入已上传分片索引列表。
	UpdateChunkUploaded(id string, chunkUploaded model.IntList) error
	// SoftDelete 逻辑删除资源记录。
	SoftDelete(id string) error
	List(query ResourceQuery) ([]model.Resource, int64, error)
}

// resourceRepository 是 ResourceRepository 接口的 GORM 实现。
type resourceRepository struct {
	db *gorm.DB
}

// NewResourceRepository 创建一个新的 ResourceRepository 实例。
func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

// Create 在数据库中创建一个新的资源记录。
func (r *resourceRepository) Create(resource *model.Resource) error {
	return r.db.Create(resource).Error
}

// FindByID 按 id 检索资源记录，gorm.DeletedAt 会自动排除已逻辑删除的行。
func (r *resourceRepository) FindByID(id string) (*model.Resource, error) {
	var resource model.Resource
	err := r.db.Where("id = ?", id).First(&resource).Error
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// Update 按 id 更新给定字段。
func (r *resourceRepository) Update(id string, fields map[string]interface{}) error {
	return r.db.Model(&model.Resource{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateChunkUploaded 覆盖写入已上传分片索引列表。
func (r *resourceRepository) UpdateChunkUploaded(id string, chunkUploaded model.IntList) error {
	return r.db.Model(&model.Resource{}).Where("id = ?", id).
		Update("chunk_uploaded", chunkUploaded).Error
}

// SoftDelete 逻辑删除资源记录，保留审计痕迹。
func (r *resourceRepository) SoftDelete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Resource{}).Error
}

// List 按条件分页查询资源列表，按创建时间倒序。
func (r *resourceRepository) List(query ResourceQuery) ([]model.Resource, int64, error) {
	db := r.db.Model(&model.Resource{})

	if query.ID != "" {
		db = db.Where("id = ?", query.ID)
	}
	if query.OriginalFilename != "" {
		db = db.Where("original_filename LIKE ?", "%"+query.OriginalFilename+"%")
	}
	if query.Type != "" {
		db = db.Where("type = ?", query.Type)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.CreatedTimeStart != nil {
		db = db.Where("created_time >= ?", *query.CreatedTimeStart)
	}
	if query.CreatedTimeEnd != nil {
		db = db.Where("created_time <= ?", *query.CreatedTimeEnd)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	current := query.Current
	if current <= 0 {
		current = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	var resources []model.Resource
	err := db.Order("created_time DESC").
		Offset((current - 1) * pageSize).
		Limit(pageSize).
		Find(&resources).Error
	return resources, total, err
}
