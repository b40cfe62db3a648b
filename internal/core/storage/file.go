package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/pkg/concurrent"
	"github.com/placenote/placenote/pkg/sequence"
)

var _ MapStore = (*FileStore)(nil)

const (
	recordFile    = "meta.json"
	contentFile   = "map.bin"
	thumbnailFile = "thumbnail.bin"

	listWorkers = 8
)

// FileStore keeps one directory per map under root:
//
//	root/maps/<id>/meta.json
//	root/maps/<id>/map.bin
//	root/maps/<id>/thumbnail.bin
//	root/datasets/<id>.bin
type FileStore struct {
	mu   sync.RWMutex
	root string
	now  func() time.Time
}

// NewFileStore opens (creating if needed) a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"maps", "datasets"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &FileStore{root: dir, now: time.Now}, nil
}

func (s *FileStore) mapDir(id string) string {
	return filepath.Join(s.root, "maps", id)
}

func (s *FileStore) Create(_ context.Context) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.mapDir(id), 0o755); err != nil {
		return "", fmt.Errorf("create map directory: %w", err)
	}
	rec := record{ID: id, Meta: engine.MapMetadata{Created: now}, Updated: now}
	if err := s.writeRecord(rec); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) Put(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(id)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(s.mapDir(id), contentFile), data); err != nil {
		return err
	}
	rec.Size = len(data)
	rec.Checksum = checksum(data)
	rec.Updated = s.now().UTC()
	return s.writeRecord(rec)
}

func (s *FileStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.readRecord(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.mapDir(id), contentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoContent
	}
	if err != nil {
		return nil, fmt.Errorf("read map content: %w", err)
	}
	if checksum(data) != rec.Checksum {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.readRecord(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.mapDir(id)); err != nil {
		return fmt.Errorf("remove map: %w", err)
	}
	return nil
}

// List reads every map record, listWorkers at a time.
func (s *FileStore) List(_ context.Context) ([]engine.MapInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(filepath.Join(s.root, "maps"))
	if err != nil {
		return nil, fmt.Errorf("list maps: %w", err)
	}

	dirs := sequence.From(entries).Filter(func(e os.DirEntry) bool { return e.IsDir() })
	infos := concurrent.Map(dirs, listWorkers, func(e os.DirEntry) *engine.MapInfo {
		rec, err := s.readRecord(e.Name())
		if err != nil {
			// half-created directories are skipped
			return nil
		}
		info := rec.info()
		return &info
	})

	out := make([]engine.MapInfo, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			out = append(out, *info)
		}
	}
	return sortRecords(out), nil
}

func (s *FileStore) Metadata(_ context.Context, id string) (engine.MapMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.readRecord(id)
	if err != nil {
		return engine.MapMetadata{}, err
	}
	return rec.info().Metadata, nil
}

func (s *FileStore) SetMetadata(_ context.Context, id string, meta engine.MapMetadata) error {
	if err := validateMetadata(meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(id)
	if err != nil {
		return err
	}
	rec.applyMetadata(meta)
	rec.Updated = s.now().UTC()
	return s.writeRecord(rec)
}

func (s *FileStore) PutThumbnail(_ context.Context, id string, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.readRecord(id); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.mapDir(id), thumbnailFile), image)
}

func (s *FileStore) PutDataset(_ context.Context, data []byte) (string, error) {
	id := uuid.NewString()
	if err := writeFileAtomic(filepath.Join(s.root, "datasets", id+".bin"), data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readRecord(id string) (record, error) {
	if !validID(id) {
		return record{}, ErrInvalidID
	}
	raw, err := os.ReadFile(filepath.Join(s.mapDir(id), recordFile))
	if errors.Is(err, fs.ErrNotExist) {
		return record{}, ErrNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("read map record: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("decode map record %s: %w", id, err)
	}
	return rec, nil
}

func (s *FileStore) writeRecord(rec record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode map record: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.mapDir(rec.ID), recordFile), raw)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
