package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"gorm.io/gorm"

	"pai-resource-go/internal/config"
	"pai-resource-go/internal/model"
	"pai-resource-go/internal/repository"
	"pai-resource-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// testStoragePaths 返回测试用的存储路径前缀配置。
func testStoragePaths() config.StoragePathsConfig {
	return config.StoragePathsConfig{
		SampleGroup: "sample_group/",
		Image:       "image/",
		Algorithm:   "algorithm/",
		Model:       "model/",
		Picture:     "picture/",
		Other:       "other/",
	}
}

// mockResourceRepo 是 ResourceRepository 的内存实现。
type mockResourceRepo struct {
	mu      sync.Mutex
	items   map[string]*model.Resource
	deleted map[string]bool
}

func newMockResourceRepo() *mockResourceRepo {
	return &mockResourceRepo{
		items:   make(map[string]*model.Resource),
		deleted: make(map[string]bool),
	}
}

func (m *mockResourceRepo) Create(resource *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *resource
	m.items[resource.ID] = &cp
	return nil
}

func (m *mockResourceRepo) FindByID(id string) (*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || m.deleted[id] {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	cp.ChunkUploaded = append(model.IntList{}, r.ChunkUploaded...)
	return &cp, nil
}

func (m *mockResourceRepo) Update(id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || m.deleted[id] {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			r.Status = v.(string)
		case "mime_type":
			r.MimeType = v.(string)
		case "file_path":
			r.FilePath = v.(string)
		case "path":
			r.Path = v.(string)
		case "md5":
			r.MD5 = v.(string)
		case "failed_reason":
			r.FailedReason = v.(string)
		}
	}
	return nil
}

func (m *mockResourceRepo) UpdateChunkUploaded(id string, chunkUploaded model.IntList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || m.deleted[id] {
		return gorm.ErrRecordNotFound
	}
	r.ChunkUploaded = append(model.IntList{}, chunkUploaded...)
	return nil
}

func (m *mockResourceRepo) SoftDelete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.deleted[id] = true
	return nil
}

func (m *mockResourceRepo) List(query repository.ResourceQuery) ([]model.Resource, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Resource
	for id, r := range m.items {
		if m.deleted[id] {
			continue
		}
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

// fakeLimiter 是 Limiter 的内存实现，模拟有界计数信号量。
type fakeLimiter struct {
	mu     sync.Mutex
	limit  int64
	counts map[string]int64
	deny   bool
}

func newFakeLimiter(limit int64) *fakeLimiter {
	return &fakeLimiter{limit: limit, counts: make(map[string]int64)}
}

func (l *fakeLimiter) Acquire(ctx context.Context, resourceID string) (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, l.counts[resourceID]
	}
	if l.counts[resourceID] >= l.limit {
		return false, l.counts[resourceID]
	}
	l.counts[resourceID]++
	return true, l.counts[resourceID]
}

func (l *fakeLimiter) Release(ctx context.Context, resourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[resourceID] > 0 {
		l.counts[resourceID]--
	}
}

// fakeObjectStore 是 ObjectStore 的内存实现。
type fakeObjectStore struct {
	mu         sync.Mutex
	objects    map[string][]byte // "bucket/key" -> 内容
	failKeys   map[string]bool   // 上传这些 key 时返回错误
	failEnsure bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects:  make(map[string][]byte),
		failKeys: make(map[string]bool),
	}
}

func (s *fakeObjectStore) objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (s *fakeObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return true, nil
}

func (s *fakeObjectStore) EnsureBucket(ctx context.Context, bucket string) error {
	if s.failEnsure {
		return fmt.Errorf("bucket unavailable")
	}
	return nil
}

func (s *fakeObjectStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[key] {
		return fmt.Errorf("put object failed: %s", key)
	}
	s.objects[s.objectKey(bucket, key)] = data
	return nil
}

func (s *fakeObjectStore) FPutObject(ctx context.Context, bucket, key, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[key] {
		return fmt.Errorf("put object failed: %s", key)
	}
	s.objects[s.objectKey(bucket, key)] = data
	return nil
}

func (s *fakeObjectStore) RemoveObject(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, s.objectKey(bucket, key))
	return nil
}

func (s *fakeObjectStore) ObjectURL(bucket, key string) string {
	return "http://fake-store:9000/minio/" + bucket + "/" + key
}

func (s *fakeObjectStore) get(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[s.objectKey(bucket, key)]
	return data, ok
}

func (s *fakeObjectStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}
