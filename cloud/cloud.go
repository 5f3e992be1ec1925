package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var ErrUnknownProvider = errors.New("cloud: unknown storage provider")

// CloudClient stores recordings with multipart uploads and resolves them back to URLs.
type CloudClient interface {
	CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error)
	UploadPart(ctx context.Context, input *UploadPartInput) (*CompletedPart, error)
	CompletePartUpload(ctx context.Context, input *CompleteUploadInput) (*CompletedUpload, error)
	AbortMultipartUpload(ctx context.Context, key string, uploadID string) error

	Exists(ctx context.Context, key string) (bool, error)
	ObjectURL(key string) string
	DownloadFile(ctx context.Context, key string, downloadPath string) error
}

type UploadPartInput struct {
	UploadID   string
	Key        string
	Body       []byte
	PartNumber int
}

type CompletedPart struct {
	ETag       string
	PartNumber int
}

type CompleteUploadInput struct {
	UploadID string
	Key      string
	Parts    []CompletedPart
}

type CompletedUpload struct {
	URL string
}

type ClientOptions struct {
	Logger   *zap.Logger
	Provider string

	Bucket   BucketOptions
	LocalDir string
	BaseURL  string
}

type BucketOptions struct {
	Name     string
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
}

// NewClient builds the client of the configured provider, "s3" or "local".
func NewClient(opts ClientOptions) (CloudClient, error) {
	switch strings.ToLower(opts.Provider) {
	case "s3", "aws", "bucket":
		c, err := NewAwsClient(&AwsClientOptions{
			Logger: opts.Logger,
			Bucket: opts.Bucket,
		})
		if err != nil {
			return nil, err
		}

		return c, nil

	case "", "local":
		c, err := NewLocalClient(LocalClientOptions{
			Logger:  opts.Logger,
			Dir:     opts.LocalDir,
			BaseURL: opts.BaseURL,
		})
		if err != nil {
			return nil, err
		}

		return c, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
}
