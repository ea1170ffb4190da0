package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	storage_go "github.com/supabase-community/storage-go"

	"tryon/internal/config"
	"tryon/internal/services"
)

// Uploader turns an uploaded image into a URL the try-on model can fetch.
type Uploader interface {
	Upload(ctx context.Context, contentType string, data []byte) (string, error)
}

// NewUploader picks Supabase Storage when upload.storage_bucket is set and
// inline data URLs otherwise.
func NewUploader(cfg *config.Config) (Uploader, error) {
	bucket := strings.TrimSpace(cfg.Upload.StorageBucket)
	if bucket == "" {
		return DataURLUploader{}, nil
	}
	return NewStorageUploader(cfg.History.SupabaseURL, cfg.History.SupabaseKey, bucket)
}

// DataURLUploader encodes the image inline.
type DataURLUploader struct{}

func (DataURLUploader) Upload(_ context.Context, contentType string, data []byte) (string, error) {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// StorageUploader stores images in a public Supabase Storage bucket.
type StorageUploader struct {
	client *storage_go.Client
	bucket string
	prefix string
}

// NewStorageUploader connects to the storage API of the Supabase project at projectURL.
func NewStorageUploader(projectURL, key, bucket string) (*StorageUploader, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(key) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "storage", "supabase url and key are required", nil)
	}
	client := storage_go.NewClient(projectURL+"/storage/v1", key, nil)
	return &StorageUploader{client: client, bucket: bucket, prefix: "uploads"}, nil
}

// Upload stores data under a random name and returns its public URL.
func (u *StorageUploader) Upload(ctx context.Context, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	objectPath := path.Join(u.prefix, uuid.NewString()+extensionFor(contentType))
	upsert := false
	_, err := u.client.UploadFile(u.bucket, objectPath, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "upload", "storage",
			fmt.Sprintf("upload %s to bucket %s", objectPath, u.bucket), err)
	}
	public := u.client.GetPublicUrl(u.bucket, objectPath)
	if strings.TrimSpace(public.SignedURL) == "" {
		return "", services.Wrap(services.ErrExternalService, "upload", "storage", "empty public url", nil)
	}
	return public.SignedURL, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
