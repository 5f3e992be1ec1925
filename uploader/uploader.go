package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/cloud"
	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/executor"
	"github.com/OmGuptaIND/rekordr/recorder"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrEmptyArtifact = errors.New("uploader: artifact is empty")

type Options struct {
	Logger *zap.Logger
	Client cloud.CloudClient

	PartSize     int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Uploader stores artifacts as multipart uploads, parts go out concurrently through a worker executor.
type Uploader struct {
	logger *zap.Logger
	client cloud.CloudClient
	opts   Options
}

func NewUploader(opts Options) *Uploader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.PartSize <= 0 {
		opts.PartSize = config.MAX_BUFFER_SIZE
	}

	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	return &Uploader{
		logger: logger.Named("uploader"),
		client: opts.Client,
		opts:   opts,
	}
}

// ObjectKey is where a video is stored.
func ObjectKey(id string, extension string) string {
	return fmt.Sprintf("%s.%s", id, extension)
}

// Upload stores the artifact under id and returns its URL. onProgress receives the
// uploaded share in percent, never decreasing, ending at 100.
func (u *Uploader) Upload(ctx context.Context, artifact *recorder.Artifact, id string, onProgress func(percent float64)) (string, error) {
	if artifact == nil || artifact.Size() == 0 {
		return "", ErrEmptyArtifact
	}

	key := ObjectKey(id, artifact.Extension)
	logger := u.logger.With(zap.String("key", key))

	uploadID, err := u.client.CreateMultipartUpload(ctx, key, artifact.MimeType)
	if err != nil {
		return "", err
	}

	parts := split(artifact.Data, u.opts.PartSize)
	total := artifact.Size()

	logger.Info("upload started", zap.Int("parts", len(parts)), zap.Int64("bytes", total))

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := executor.NewWorkerExecutor(jobCtx, &executor.WorkerExecutorOptions{
		Logger:       u.logger,
		WorkerCount:  u.opts.Workers,
		MaxRetries:   u.opts.MaxRetries,
		RetryBackoff: u.opts.RetryBackoff,
	})
	workers.Start()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed []cloud.CompletedPart
		uploaded  int64
		errs      error
	)

	for i, body := range parts {
		input := &cloud.UploadPartInput{
			UploadID:   uploadID,
			Key:        key,
			Body:       body,
			PartNumber: i + 1,
		}

		var part *cloud.CompletedPart

		wg.Add(1)
		workers.Enqueue(executor.Job{
			Id:  fmt.Sprintf("%s#%d", key, input.PartNumber),
			Ctx: jobCtx,
			JobFunc: func() error {
				p, err := u.client.UploadPart(jobCtx, input)
				if err != nil {
					return err
				}

				part = p

				return nil
			},
			OnSuccess: func() {
				defer wg.Done()

				mu.Lock()
				defer mu.Unlock()

				completed = append(completed, *part)
				uploaded += int64(len(input.Body))

				if onProgress != nil {
					onProgress(float64(uploaded) * 100 / float64(total))
				}
			},
			OnError: func(err error) {
				defer wg.Done()

				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("part %d: %w", input.PartNumber, err))
				mu.Unlock()

				cancel()
			},
		})
	}

	wg.Wait()
	workers.Stop()
	workers.Wait()

	if errs != nil {
		if aerr := u.client.AbortMultipartUpload(context.WithoutCancel(ctx), key, uploadID); aerr != nil {
			logger.Warn("failed to abort upload", zap.Error(aerr))
		}

		return "", fmt.Errorf("upload %s: %w", key, errs)
	}

	done, err := u.client.CompletePartUpload(ctx, &cloud.CompleteUploadInput{
		UploadID: uploadID,
		Key:      key,
		Parts:    completed,
	})
	if err != nil {
		return "", err
	}

	logger.Info("upload completed", zap.String("url", done.URL))

	return done.URL, nil
}

func split(data []byte, size int) [][]byte {
	var parts [][]byte

	for len(data) > size {
		parts = append(parts, data[:size])
		data = data[size:]
	}

	return append(parts, data)
}
