package chunker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/config"
	"github.com/OmGuptaIND/rekordr/recorder"
	"go.uber.org/zap"
)

var ErrUnknownSession = errors.New("chunker: no spooled session")

const manifestName = "session.json"

type SpoolOptions struct {
	Logger *zap.Logger
	Dir    string
}

// Manifest describes a spooled session.
type Manifest struct {
	SessionID string          `json:"sessionId"`
	Format    recorder.Format `json:"format"`
	StartedAt time.Time       `json:"startedAt"`
}

// Spool writes every accepted chunk of a session to disk, so a crash or a failed
// upload leaves the recording recoverable.
type Spool struct {
	logger *zap.Logger
	dir    string

	mu    sync.Mutex
	known map[string]bool
}

func NewSpool(opts SpoolOptions) (*Spool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := opts.Dir
	if dir == "" {
		dir = config.RECORDING_DIR
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool dir: %w", err)
	}

	return &Spool{
		logger: logger.Named("spool"),
		dir:    dir,
		known:  make(map[string]bool),
	}, nil
}

func (s *Spool) sessionDir(sessionID string) string {
	return filepath.Join(s.dir, filepath.Base(sessionID))
}

func chunkName(seq int, ext string) string {
	return fmt.Sprintf("chunk_%05d.%s", seq, ext)
}

// Append stores one chunk. The first chunk of a session also writes its manifest.
func (s *Spool) Append(sessionID string, format recorder.Format, c recorder.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionDir(sessionID)

	if !s.known[sessionID] {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		manifest, err := json.Marshal(Manifest{SessionID: sessionID, Format: format, StartedAt: c.CreatedAt})
		if err != nil {
			return err
		}

		if err := os.WriteFile(filepath.Join(dir, manifestName), manifest, 0o644); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}

		s.known[sessionID] = true
	}

	if err := os.WriteFile(filepath.Join(dir, chunkName(c.Seq, format.Extension)), c.Data, 0o644); err != nil {
		return fmt.Errorf("failed to spool chunk %d: %w", c.Seq, err)
	}

	s.logger.Debug("chunk spooled", zap.String("session", sessionID), zap.Int("seq", c.Seq), zap.Int("size", c.Size()))

	return nil
}

// Discard removes a session's chunks, it is a no-op for unknown sessions.
func (s *Spool) Discard(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.known, sessionID)

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return err
	}

	s.logger.Debug("session discarded", zap.String("session", sessionID))

	return nil
}

// Sessions lists spooled session ids.
func (s *Spool) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), manifestName)); err == nil {
			ids = append(ids, e.Name())
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (s *Spool) manifest(sessionID string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("corrupt manifest for %s: %w", sessionID, err)
	}

	return m, nil
}

// Recover assembles a spooled session into an artifact, chunks in sequence order.
func (s *Spool) Recover(sessionID string) (*recorder.Artifact, error) {
	m, err := s.manifest(sessionID)
	if err != nil {
		return nil, err
	}

	dir := s.sessionDir(sessionID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var chunks []recorder.Chunk
	for _, e := range entries {
		var seq int
		if _, err := fmt.Sscanf(e.Name(), "chunk_%d.", &seq); err != nil {
			continue
		}

		if !strings.HasSuffix(e.Name(), "."+m.Format.Extension) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, recorder.Chunk{Seq: seq, Data: data})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })

	artifact, err := recorder.Assemble(chunks, m.Format)
	if err != nil {
		return nil, fmt.Errorf("recover %s: %w", sessionID, err)
	}

	s.logger.Info("session recovered", zap.String("session", sessionID), zap.Int("chunks", artifact.Chunks), zap.Int64("size", artifact.Size()))

	return artifact, nil
}

// RecoverAll recovers every spooled session, skipping the ones that hold no data.
func (s *Spool) RecoverAll() (map[string]*recorder.Artifact, error) {
	ids, err := s.Sessions()
	if err != nil {
		return nil, err
	}

	out := make(map[string]*recorder.Artifact, len(ids))
	for _, id := range ids {
		artifact, err := s.Recover(id)
		if errors.Is(err, recorder.ErrNoDataCaptured) {
			s.logger.Warn("spooled session is empty", zap.String("session", id))
			continue
		}
		if err != nil {
			return nil, err
		}

		out[id] = artifact
	}

	return out, nil
}
