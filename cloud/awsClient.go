package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

type AwsClientOptions struct {
	Logger *zap.Logger
	Bucket BucketOptions
}

type AwsClient struct {
	logger     *zap.Logger
	bucket     BucketOptions
	s3Client   *s3.S3
	downloader *s3manager.Downloader
}

// NewAwsClient connects to an S3 compatible bucket.
func NewAwsClient(opts *AwsClientOptions) (*AwsClient, error) {
	if opts.Bucket.Name == "" {
		return nil, errors.New("bucket name is not configured")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bucketConfig := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(opts.Bucket.KeyID, opts.Bucket.AppKey, ""),
		Region:           aws.String(opts.Bucket.Region),
		S3ForcePathStyle: aws.Bool(true),
		Retryer: client.DefaultRetryer{
			NumMaxRetries: 5,
			MinRetryDelay: 2 * time.Second,
			MaxRetryDelay: 30 * time.Second,
		},
	}

	if opts.Bucket.Endpoint != "" {
		bucketConfig.Endpoint = aws.String(opts.Bucket.Endpoint)
	}

	awsSession, err := session.NewSession(bucketConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &AwsClient{
		logger:     logger.Named("s3"),
		bucket:     opts.Bucket,
		s3Client:   s3.New(awsSession),
		downloader: s3manager.NewDownloader(awsSession),
	}, nil
}

// CreateMultipartUpload opens a multipart upload for key and returns its id.
func (a *AwsClient) CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	result, err := a.s3Client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(a.bucket.Name),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}

	return aws.StringValue(result.UploadId), nil
}

func (a *AwsClient) UploadPart(ctx context.Context, input *UploadPartInput) (*CompletedPart, error) {
	partResp, err := a.s3Client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Body:       bytes.NewReader(input.Body),
		Bucket:     aws.String(a.bucket.Name),
		Key:        aws.String(input.Key),
		PartNumber: aws.Int64(int64(input.PartNumber)),
		UploadId:   aws.String(input.UploadID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload part %d: %w", input.PartNumber, err)
	}

	return &CompletedPart{
		ETag:       aws.StringValue(partResp.ETag),
		PartNumber: input.PartNumber,
	}, nil
}

func (a *AwsClient) CompletePartUpload(ctx context.Context, input *CompleteUploadInput) (*CompletedUpload, error) {
	parts := append([]CompletedPart(nil), input.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	completedParts := make([]*s3.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completedParts = append(completedParts, &s3.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int64(int64(part.PartNumber)),
		})
	}

	_, err := a.s3Client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		UploadId: aws.String(input.UploadID),
		Bucket:   aws.String(a.bucket.Name),
		Key:      aws.String(input.Key),
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return &CompletedUpload{URL: a.ObjectURL(input.Key)}, nil
}

func (a *AwsClient) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	_, err := a.s3Client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(a.bucket.Name),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	return nil
}

// Exists reports whether key is stored in the bucket.
func (a *AwsClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket.Name),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return false, nil
	}

	return false, fmt.Errorf("failed to head object %s: %w", key, err)
}

// ObjectURL is the public virtual-hosted URL of key.
func (a *AwsClient) ObjectURL(key string) string {
	endpoint := a.bucket.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", a.bucket.Region)
	}

	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	return fmt.Sprintf("https://%s.%s/%s", a.bucket.Name, strings.TrimSuffix(endpoint, "/"), key)
}

// DownloadFile streams key from the bucket into downloadPath.
func (a *AwsClient) DownloadFile(ctx context.Context, key string, downloadPath string) error {
	file, err := os.Create(downloadPath)
	if err != nil {
		return err
	}
	defer file.Close()

	n, err := a.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", key, err)
	}

	a.logger.Info("downloaded object", zap.String("key", key), zap.Int64("bytes", n))

	return nil
}
