package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-resource-go/internal/model"
)

func TestClassifyStoragePathByExtension(t *testing.T) {
	paths := testStoragePaths()
	dir := t.TempDir()

	cases := []struct {
		filename string
		want     string
	}{
		{"photo.jpg", paths.Picture},
		{"diagram.PNG", paths.Picture},
		{"train.py", paths.Algorithm},
		{"solver.cpp", paths.Algorithm},
		{"weights.onnx", paths.Model},
		{"checkpoint.pth", paths.Model},
		{"layers.h5", paths.Model},
		{"runtime.tar", paths.Image},
		{"bundle.zip", paths.Image},
		{"readme.md", paths.Other},
		{"binary.bin", paths.Other},
	}
	for _, tc := range cases {
		path := filepath.Join(dir, tc.filename)
		require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
		assert.Equal(t, tc.want, ClassifyStoragePath(path, paths), tc.filename)
	}
}

func TestClassifyStoragePathContentSniffing(t *testing.T) {
	paths := testStoragePaths()
	dir := t.TempDir()

	labeled := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(labeled, []byte("id,label,value\n1,cat,0.9\n"), 0o644))
	assert.Equal(t, paths.SampleGroup, ClassifyStoragePath(labeled, paths))

	plain := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(plain, []byte("meeting minutes\n"), 0o644))
	assert.Equal(t, paths.Other, ClassifyStoragePath(plain, paths))

	// 文件不可读按未命中处理
	missing := filepath.Join(dir, "gone.json")
	assert.Equal(t, paths.Other, ClassifyStoragePath(missing, paths))
}

func TestDecompressPathFor(t *testing.T) {
	paths := testStoragePaths()

	assert.Equal(t, "sample_group/res-abc/", DecompressPathFor(model.TypeSampleGroup, "res-abc", paths))
	assert.Equal(t, paths.Image, DecompressPathFor(model.TypeImage, "res-abc", paths))
	assert.Equal(t, paths.Algorithm, DecompressPathFor(model.TypeAlgorithmPackage, "res-abc", paths))
	assert.Equal(t, paths.Model, DecompressPathFor(model.TypeModel, "res-abc", paths))
	assert.Equal(t, paths.Other, DecompressPathFor("unknown", "res-abc", paths))
}
