package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/placenote/placenote/internal/core/engine"
)

var _ MapStore = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*record
	blobs      map[string][]byte
	thumbnails map[string][]byte
	datasets   map[string][]byte
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*record),
		blobs:      make(map[string][]byte),
		thumbnails: make(map[string][]byte),
		datasets:   make(map[string][]byte),
		now:        time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC()
	s.mu.Lock()
	s.records[id] = &record{ID: id, Meta: engine.MapMetadata{Created: now}, Updated: now}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Put(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	s.blobs[id] = slices.Clone(data)
	rec.Size = len(data)
	rec.Checksum = checksum(data)
	rec.Updated = s.now().UTC()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := s.blobs[id]
	if !ok {
		return nil, ErrNoContent
	}
	if checksum(data) != rec.Checksum {
		return nil, ErrChecksumMismatch
	}
	return slices.Clone(data), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	delete(s.blobs, id)
	delete(s.thumbnails, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]engine.MapInfo, error) {
	s.mu.RLock()
	out := make([]engine.MapInfo, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.info())
	}
	s.mu.RUnlock()
	return sortRecords(out), nil
}

func (s *MemoryStore) Metadata(_ context.Context, id string) (engine.MapMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return engine.MapMetadata{}, ErrNotFound
	}
	return rec.info().Metadata, nil
}

func (s *MemoryStore) SetMetadata(_ context.Context, id string, meta engine.MapMetadata) error {
	if err := validateMetadata(meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.applyMetadata(meta)
	rec.Updated = s.now().UTC()
	return nil
}

func (s *MemoryStore) PutThumbnail(_ context.Context, id string, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	s.thumbnails[id] = slices.Clone(image)
	return nil
}

// Thumbnail returns the stored thumbnail for id.
func (s *MemoryStore) Thumbnail(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.thumbnails[id]
	return img, ok
}

func (s *MemoryStore) PutDataset(_ context.Context, data []byte) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.datasets[id] = slices.Clone(data)
	s.mu.Unlock()
	return id, nil
}

// Datasets is the number of datasets received.
func (s *MemoryStore) Datasets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

func (s *MemoryStore) Close() error { return nil }
