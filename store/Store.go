package store

import (
	"sort"
	"sync"
	"time"

	"github.com/OmGuptaIND/rekordr/engine"
)

var store *AppStore

// Video is an uploaded recording.
type Video struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Key       string        `json:"key"`
	MimeType  string        `json:"mimeType"`
	Size      int64         `json:"size"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

type AppStore struct {
	mu      sync.RWMutex
	Engines map[string]*engine.Engine
	Videos  map[string]Video
}

// GetStore retrieves the store.
func GetStore() *AppStore {
	return store
}

// NewStore creates a new store.
func NewStore() *AppStore {
	if store != nil {
		return store
	}

	store = &AppStore{
		Engines: make(map[string]*engine.Engine),
		Videos:  make(map[string]Video),
	}

	return store
}

// AddEngine adds a recording engine to the store.
func (s *AppStore) AddEngine(e *engine.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Engines[e.ID] = e
}

// GetEngine retrieves a recording engine from the store.
func (s *AppStore) GetEngine(id string) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.Engines[id]
	return e, ok
}

// RemoveEngine removes a recording engine from the store.
func (s *AppStore) RemoveEngine(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.Engines, id)
}

// ListEngines lists all engines in the store, ordered by id.
func (s *AppStore) ListEngines() []*engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	engines := make([]*engine.Engine, 0, len(s.Engines))
	for _, e := range s.Engines {
		engines = append(engines, e)
	}

	sort.Slice(engines, func(i, j int) bool { return engines[i].ID < engines[j].ID })

	return engines
}

// AddVideo records an uploaded video.
func (s *AppStore) AddVideo(v Video) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Videos[v.ID] = v
}

// LookupVideo finds an uploaded video by id.
func (s *AppStore) LookupVideo(id string) (Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.Videos[id]
	return v, ok
}
