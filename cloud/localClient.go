package cloud

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LocalClientOptions struct {
	Logger  *zap.Logger
	Dir     string
	BaseURL string
}

// LocalClient keeps recordings on the local filesystem, for development without a bucket.
type LocalClient struct {
	logger  *zap.Logger
	dir     string
	baseURL string
}

func NewLocalClient(opts LocalClientOptions) (*LocalClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := opts.Dir
	if dir == "" {
		dir = "videos"
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	return &LocalClient{
		logger:  logger.Named("local-storage"),
		dir:     dir,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
	}, nil
}

func (l *LocalClient) uploadDir(uploadID string) string {
	return filepath.Join(l.dir, ".uploads", uploadID)
}

func (l *LocalClient) objectPath(key string) (string, error) {
	p := filepath.Join(l.dir, filepath.FromSlash(key))

	if !strings.HasPrefix(p, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	return p, nil
}

func (l *LocalClient) CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := l.objectPath(key); err != nil {
		return "", err
	}

	uploadID := uuid.New().String()

	if err := os.MkdirAll(l.uploadDir(uploadID), 0o755); err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}

	l.logger.Debug("multipart upload created", zap.String("key", key), zap.String("uploadId", uploadID), zap.String("contentType", contentType))

	return uploadID, nil
}

func (l *LocalClient) UploadPart(ctx context.Context, input *UploadPartInput) (*CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := l.uploadDir(input.UploadID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("unknown upload %s: %w", input.UploadID, err)
	}

	name := filepath.Join(dir, fmt.Sprintf("part_%05d", input.PartNumber))
	if err := os.WriteFile(name, input.Body, 0o644); err != nil {
		return nil, fmt.Errorf("failed to upload part %d: %w", input.PartNumber, err)
	}

	sum := md5.Sum(input.Body)

	return &CompletedPart{
		ETag:       hex.EncodeToString(sum[:]),
		PartNumber: input.PartNumber,
	}, nil
}

func (l *LocalClient) CompletePartUpload(ctx context.Context, input *CompleteUploadInput) (*CompletedUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := l.objectPath(input.Key)
	if err != nil {
		return nil, err
	}

	if len(input.Parts) == 0 {
		return nil, errors.New("failed to complete multipart upload: no parts")
	}

	parts := append([]CompletedPart(nil), input.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}

	out, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	defer out.Close()

	dir := l.uploadDir(input.UploadID)

	for _, part := range parts {
		if err := appendFile(out, filepath.Join(dir, fmt.Sprintf("part_%05d", part.PartNumber))); err != nil {
			return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		l.logger.Warn("failed to clean upload parts", zap.String("uploadId", input.UploadID), zap.Error(err))
	}

	return &CompletedUpload{URL: l.ObjectURL(input.Key)}, nil
}

func appendFile(w io.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)

	return err
}

func (l *LocalClient) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	return os.RemoveAll(l.uploadDir(uploadID))
}

func (l *LocalClient) Exists(ctx context.Context, key string) (bool, error) {
	p, err := l.objectPath(key)
	if err != nil {
		return false, nil
	}

	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return err == nil, err
}

// ObjectURL serves key under the configured base URL, or as a file URL without one.
func (l *LocalClient) ObjectURL(key string) string {
	if l.baseURL != "" {
		return l.baseURL + "/" + key
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(l.dir, key))}

	return u.String()
}

func (l *LocalClient) DownloadFile(ctx context.Context, key string, downloadPath string) error {
	p, err := l.objectPath(key)
	if err != nil {
		return err
	}

	out, err := os.Create(downloadPath)
	if err != nil {
		return err
	}
	defer out.Close()

	return appendFile(out, p)
}
