package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Relchzen/kopcus-dashboard/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MediaAsset describes one object in the media library.
type MediaAsset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// MediaService stores the console's media assets (event banners, venue
// photos) in an S3-compatible bucket.
type MediaService struct {
	client *minio.Client
	bucket string
	config *config.MediaConfig
}

func NewMediaService(cfg *config.MediaConfig) (*MediaService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MediaService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MediaService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// AllowedMediaType reports whether a content type may enter the media library.
func AllowedMediaType(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return true
	case strings.HasPrefix(contentType, "video/"):
		return true
	case contentType == "application/pdf":
		return true
	}
	return false
}

// Upload stores an asset under the given object name.
func (s *MediaService) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload media: %w", err)
	}

	return nil
}

// List walks the bucket and returns the stored assets with presigned URLs.
func (s *MediaService) List(ctx context.Context) ([]MediaAsset, error) {
	assets := []MediaAsset{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list media: %w", obj.Err)
		}

		url, err := s.PresignedURL(ctx, obj.Key)
		if err != nil {
			return nil, err
		}

		// Object names are "<id>/<filename>"
		id, name := obj.Key, obj.Key
		if i := strings.IndexByte(obj.Key, '/'); i > 0 {
			id = obj.Key[:i]
			name = obj.Key[i+1:]
		}

		assets = append(assets, MediaAsset{
			ID:          id,
			Name:        name,
			ContentType: obj.ContentType,
			Size:        obj.Size,
			URL:         url,
			UploadedAt:  obj.LastModified,
		})
	}
	return assets, nil
}

// PresignedURL generates a presigned URL for the object with expiration
func (s *MediaService) PresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// Delete removes every object stored under the asset id prefix.
func (s *MediaService) Delete(ctx context.Context, assetID string) error {
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: assetID + "/", Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("failed to list media: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete media: %w", err)
		}
	}
	return nil
}
