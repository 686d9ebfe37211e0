package presign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
)

const numValidateRetries = 3

// ErrBucketNotFound is returned by ValidateBucket when the configured bucket
// does not exist or is not visible with the current credentials.
var ErrBucketNotFound = errors.New("bucket not found")

// ValidateBucket checks that the configured bucket is reachable before issuing
// any destinations. Transient errors are retried; a missing bucket aborts
// immediately.
func (s *Service) ValidateBucket(ctx context.Context) error {
	return retry.Times(numValidateRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(s.config.Bucket),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					return ErrBucketNotFound, true
				}
			}
			if attempt > 0 {
				s.logger.Debugf("head bucket attempt %d: %s", attempt+1, err)
			}
			return fmt.Errorf("head bucket: %w", err), false
		}
		return nil, true
	})
}
