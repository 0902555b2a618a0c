package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"recetario-go/internal/config"
	"recetario-go/pkg/apperr"
)

func TestNewObjectKey(t *testing.T) {
	key := NewObjectKey("Foto Tacos.PNG")
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Len(t, key, 36+len(".png"))

	assert.True(t, strings.HasSuffix(NewObjectKey("sin-extension"), ".jpg"))
	assert.NotEqual(t, NewObjectKey("a.jpg"), NewObjectKey("a.jpg"))
}

func TestObjectKeyFromURL(t *testing.T) {
	cases := []struct {
		url  string
		key  string
		want bool
	}{
		{"http://localhost:9000/recipe-images/abc.jpg", "abc.jpg", true},
		{"http://localhost:9000/recipe-images/abc.jpg?v=123", "abc.jpg", true},
		{"https://cdn.example.com/storage/v1/recipe-images/dir/abc.png", "dir/abc.png", true},
		{"https://picsum.photos/seed/pasta/400/300", "", false},
		{"http://localhost:9000/recipe-images/", "", false},
		{"::not a url", "", false},
	}
	for _, c := range cases {
		key, ok := ObjectKeyFromURL(c.url, "recipe-images")
		assert.Equal(t, c.want, ok, c.url)
		assert.Equal(t, c.key, key, c.url)
	}
}

func TestWithVersion(t *testing.T) {
	ts := time.Unix(0, 1700000000123456789)
	assert.Equal(t, "http://h/b/k.jpg?v=1700000000123456789", withVersion("http://h/b/k.jpg", ts))
}

func TestPublicURL(t *testing.T) {
	s := &MinioStore{bucket: "recipe-images", baseURL: publicBaseURL(config.MinIOConfig{Endpoint: "localhost:9000"})}
	assert.Equal(t, "http://localhost:9000/recipe-images/k.jpg", s.PublicURL("k.jpg"))

	s.baseURL = publicBaseURL(config.MinIOConfig{Endpoint: "minio:9000", UseSSL: true})
	assert.Equal(t, "https://minio:9000/recipe-images/k.jpg", s.PublicURL("k.jpg"))

	s.baseURL = publicBaseURL(config.MinIOConfig{PublicBaseURL: "https://img.example.com/"})
	assert.Equal(t, "https://img.example.com/recipe-images/k.jpg", s.PublicURL("k.jpg"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentTypeFor("a.jpg"))
	assert.Equal(t, "image/png", contentTypeFor("a.png"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a"))
}

func TestClassify(t *testing.T) {
	denied := minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}
	assert.True(t, apperr.Is(classify("op", denied), apperr.KindPermissionDenied))

	missing := minio.ErrorResponse{Code: "NoSuchKey"}
	assert.True(t, apperr.Is(classify("op", missing), apperr.KindNotFound))

	assert.True(t, apperr.Is(classify("op", errors.New("dial tcp: i/o timeout")), apperr.KindStoreUnavailable))
}

func TestPublicReadPolicy(t *testing.T) {
	policy := publicReadPolicy("recipe-images")
	assert.Contains(t, policy, "arn:aws:s3:::recipe-images/*")
	assert.Contains(t, policy, "s3:GetObject")
}
