package presign

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/uploadkit-io/go-uploadkit/internal"
)

// Fetch downloads a stored object to a local file. Useful for verifying that
// an uploaded object arrived intact.
func (s *Service) Fetch(ctx context.Context, key string, downloadPath string) error {
	return s.fetch(ctx, key, downloadPath, internal.RealOS{})
}

func (s *Service) fetch(ctx context.Context, key string, downloadPath string, osProxy internal.OsProxy) error {
	file, err := osProxy.Create(downloadPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Errorf("failed to close file: %s", err)
		}
	}()

	downloader := manager.NewDownloader(s.client)
	_, err = downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download object: %w", err)
	}
	return nil
}
