package app

import (
	"strings"

	"github.com/kodianteach/atlas-platform-sub001/internal/blobstore"
)

// BlobstoreConfig converts StorageConfig into the blobstore package representation.
func (c StorageConfig) BlobstoreConfig() blobstore.Config {
	return blobstore.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		S3: blobstore.S3Config{
			Bucket:          strings.TrimSpace(c.S3.Bucket),
			Region:          strings.TrimSpace(c.S3.Region),
			Endpoint:        strings.TrimSpace(c.S3.Endpoint),
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			UsePathStyle:    c.S3.UsePathStyle,
		},
		MinIO: blobstore.MinIOConfig{
			Endpoint:   strings.TrimSpace(c.MinIO.Endpoint),
			AccessKey:  c.MinIO.AccessKey,
			SecretKey:  c.MinIO.SecretKey,
			BucketName: strings.TrimSpace(c.MinIO.BucketName),
			Secure:     c.MinIO.Secure,
		},
	}
}
