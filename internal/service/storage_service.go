package service

import (
	"context"
	"fmt"
	"io"
	"luma_backend/internal/config"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageProvider 定义通用存储接口。课件走预签名URL直传/直取，
// 服务端只在大纲抽取读正文时取回对象。
type StorageProvider interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)
	// Download 服务端取回对象内容，目前仅大纲抽取读课件正文时用到
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectKey string) error
	GetURL(objectKey string) string
	// PresignedUpload 签发限时上传URL
	PresignedUpload(ctx context.Context, objectKey string, expire time.Duration) (string, error)
	// PresignedDownload 签发限时下载URL
	PresignedDownload(ctx context.Context, objectKey string, expire time.Duration) (string, error)
}

// LocalStorageProvider 本地存储实现，开发环境用；“预签名”退化为直链
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, objectKey)
	dir := filepath.Dir(dst)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	_, err = io.Copy(out, reader)
	if err != nil {
		return "", err
	}

	return p.GetURL(objectKey), nil
}

func (p *LocalStorageProvider) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(p.Config.LocalPath, objectKey))
}

func (p *LocalStorageProvider) Delete(ctx context.Context, objectKey string) error {
	dst := filepath.Join(p.Config.LocalPath, objectKey)
	return os.Remove(dst)
}

func (p *LocalStorageProvider) GetURL(objectKey string) string {
	return "/uploads/" + objectKey
}

func (p *LocalStorageProvider) PresignedUpload(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	return "/api/uploads/" + objectKey, nil
}

func (p *LocalStorageProvider) PresignedDownload(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	return p.GetURL(objectKey), nil
}

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(objectKey), nil
}

func (p *MinioStorageProvider) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := p.Client.GetObject(ctx, p.Config.MinioBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (p *MinioStorageProvider) Delete(ctx context.Context, objectKey string) error {
	return p.Client.RemoveObject(ctx, p.Config.MinioBucket, objectKey, minio.RemoveObjectOptions{})
}

func (p *MinioStorageProvider) GetURL(objectKey string) string {
	return "/" + p.Config.MinioBucket + "/" + objectKey
}

func (p *MinioStorageProvider) PresignedUpload(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	u, err := p.Client.PresignedPutObject(ctx, p.Config.MinioBucket, objectKey, expire)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (p *MinioStorageProvider) PresignedDownload(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	params := make(url.Values)
	u, err := p.Client.PresignedGetObject(ctx, p.Config.MinioBucket, objectKey, expire, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// OSSStorageProvider 阿里云OSS存储实现
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Client *oss.Client
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Client: client}, nil
}

func (p *OSSStorageProvider) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return "", err
	}

	err = bucket.PutObject(objectKey, reader)
	if err != nil {
		return "", err
	}
	return p.GetURL(objectKey), nil
}

func (p *OSSStorageProvider) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return nil, err
	}
	return bucket.GetObject(objectKey)
}

func (p *OSSStorageProvider) Delete(ctx context.Context, objectKey string) error {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return err
	}
	return bucket.DeleteObject(objectKey)
}

func (p *OSSStorageProvider) GetURL(objectKey string) string {
	return fmt.Sprintf("https://%s.%s/%s", p.Config.OSSBucket, p.Config.OSSEndpoint, objectKey)
}

func (p *OSSStorageProvider) PresignedUpload(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return "", err
	}
	return bucket.SignURL(objectKey, oss.HTTPPut, int64(expire.Seconds()))
}

func (p *OSSStorageProvider) PresignedDownload(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return "", err
	}
	return bucket.SignURL(objectKey, oss.HTTPGet, int64(expire.Seconds()))
}

// StorageService 存储服务
type StorageService struct {
	Provider StorageProvider
	Expire   time.Duration
}

func NewStorageService(cfg *config.Config) *StorageService {
	var provider StorageProvider
	switch cfg.Storage.Type {
	case "minio":
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err == nil {
			provider = p
		}
	case "oss":
		p, err := NewOSSStorageProvider(&cfg.Storage)
		if err == nil {
			provider = p
		}
	}

	if provider == nil {
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	}

	return &StorageService{
		Provider: provider,
		Expire:   time.Duration(cfg.Storage.PresignExpireMinutes) * time.Minute,
	}
}

func (s *StorageService) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	return s.Provider.Upload(ctx, objectKey, reader, size, contentType)
}

func (s *StorageService) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return s.Provider.Download(ctx, objectKey)
}

func (s *StorageService) Delete(ctx context.Context, objectKey string) error {
	return s.Provider.Delete(ctx, objectKey)
}

func (s *StorageService) GetURL(objectKey string) string {
	return s.Provider.GetURL(objectKey)
}

func (s *StorageService) PresignedUpload(ctx context.Context, objectKey string) (string, error) {
	return s.Provider.PresignedUpload(ctx, objectKey, s.Expire)
}

func (s *StorageService) PresignedDownload(ctx context.Context, objectKey string) (string, error) {
	return s.Provider.PresignedDownload(ctx, objectKey, s.Expire)
}
