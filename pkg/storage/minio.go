// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于保存食谱图片。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"recetario-go/internal/config"
	"recetario-go/pkg/apperr"
	"recetario-go/pkg/log"
)

// MinioStore 把图片保存在单个公开可读的存储桶中。
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewMinioStore 初始化 MinIO 客户端，确保存储桶存在并允许匿名读取。
func NewMinioStore(ctx context.Context, cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	bucketName := cfg.BucketName
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, classify("storage.Init", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, classify("storage.Init", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	}
	if err := client.SetBucketPolicy(ctx, bucketName, publicReadPolicy(bucketName)); err != nil {
		return nil, classify("storage.Init", err)
	}

	return &MinioStore{
		client:  client,
		bucket:  bucketName,
		baseURL: publicBaseURL(cfg),
		now:     time.Now,
	}, nil
}

// Upload 以新的随机对象名保存图片，保留 suggestedName 的扩展名，返回公开访问地址。
func (s *MinioStore) Upload(ctx context.Context, data []byte, suggestedName string) (string, error) {
	return s.UploadAs(ctx, NewObjectKey(suggestedName), data, false)
}

// UploadAs 以指定对象名保存图片。
// overwrite 为 false 且对象已存在时返回错误；覆盖已有对象时在地址后追加版本参数，保证地址立即指向新内容。
func (s *MinioStore) UploadAs(ctx context.Context, key string, data []byte, overwrite bool) (string, error) {
	if len(data) == 0 {
		return "", apperr.New(apperr.KindValidation, "storage.Upload", "图片内容为空")
	}
	existed, err := s.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if existed && !overwrite {
		return "", apperr.New(apperr.KindValidation, "storage.Upload", "对象已存在: "+key)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return "", classify("storage.Upload", err)
	}
	log.Infof("[Storage] 图片上传成功, key: %s, size: %d", key, len(data))

	publicURL := s.PublicURL(key)
	if existed {
		publicURL = withVersion(publicURL, s.now())
	}
	return publicURL, nil
}

// Delete 删除地址对应的对象。不属于本存储桶的地址会被忽略。
func (s *MinioStore) Delete(ctx context.Context, rawURL string) error {
	key, ok := ObjectKeyFromURL(rawURL, s.bucket)
	if !ok {
		log.Warnf("[Storage] 地址不属于存储桶 '%s'，跳过删除: %s", s.bucket, rawURL)
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("storage.Delete", err)
	}
	log.Infof("[Storage] 图片已删除, key: %s", key)
	return nil
}

// PublicURL 返回对象的公开访问地址。
func (s *MinioStore) PublicURL(key string) string {
	return s.baseURL + "/" + s.bucket + "/" + key
}

func (s *MinioStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, classify("storage.Stat", err)
}

// NewObjectKey 生成一个随机对象名，保留原文件的扩展名（统一为小写）。
func NewObjectKey(suggestedName string) string {
	ext := strings.ToLower(path.Ext(suggestedName))
	if ext == "" {
		ext = ".jpg"
	}
	return uuid.NewString() + ext
}

// ObjectKeyFromURL 从公开地址中提取对象名：取 "/<bucket>/" 之后的部分并去掉查询参数。
func ObjectKeyFromURL(rawURL, bucket string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	marker := "/" + bucket + "/"
	idx := strings.Index(u.Path, marker)
	if idx < 0 {
		return "", false
	}
	key := u.Path[idx+len(marker):]
	if key == "" {
		return "", false
	}
	return key, true
}

func withVersion(publicURL string, t time.Time) string {
	return publicURL + "?v=" + strconv.FormatInt(t.UnixNano(), 10)
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func publicBaseURL(cfg config.MinIOConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + cfg.Endpoint
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [{
		"Effect": "Allow",
		"Principal": {"AWS": ["*"]},
		"Action": ["s3:GetObject"],
		"Resource": ["arn:aws:s3:::%s/*"]
	}]
}`, bucket)
}

// classify 把 MinIO 错误转换为带类别的错误。
func classify(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return apperr.Wrap(apperr.KindPermissionDenied, op, err)
	case "NoSuchKey", "NoSuchBucket":
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, op, err)
}
