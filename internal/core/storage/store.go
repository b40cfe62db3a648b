// Package storage persists maps, their metadata and the auxiliary uploads
// (datasets, thumbnails) that the mapping backend accepts.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/pkg/sequence"
)

var (
	ErrNotFound         = engine.ErrMapNotFound
	ErrNoContent        = errors.New("map has no uploaded content")
	ErrChecksumMismatch = errors.New("stored map content failed checksum verification")
	ErrInvalidID        = errors.New("invalid map id")
	ErrInvalidUserData  = errors.New("map user data is not valid JSON")
)

// MapStore is the backend map database.
type MapStore interface {
	// Create adds an empty map record and returns its new ID.
	Create(ctx context.Context) (string, error)
	// Put replaces the content of an existing map.
	Put(ctx context.Context, id string, data []byte) error
	// Get returns the content of a map, verified against its checksum.
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// List returns every map, oldest first.
	List(ctx context.Context) ([]engine.MapInfo, error)
	Metadata(ctx context.Context, id string) (engine.MapMetadata, error)
	// SetMetadata replaces name, location and user data. Created is kept.
	SetMetadata(ctx context.Context, id string, meta engine.MapMetadata) error
	PutThumbnail(ctx context.Context, id string, image []byte) error
	PutDataset(ctx context.Context, data []byte) (string, error)
	Close() error
}

// Search filters a store listing with query.
func Search(ctx context.Context, s MapStore, query engine.SearchQuery) ([]engine.MapInfo, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return sequence.From(all).Filter(query.Matches).Collect(), nil
}

// record is the persisted shape of a map's bookkeeping.
type record struct {
	ID       string             `json:"id"`
	Meta     engine.MapMetadata `json:"meta"`
	Size     int                `json:"size"`
	Checksum uint64             `json:"checksum"`
	Updated  time.Time          `json:"updated"`
}

// info returns a copy of the record's summary that shares no memory with it.
func (r record) info() engine.MapInfo {
	meta := r.Meta
	if meta.Location != nil {
		loc := *meta.Location
		meta.Location = &loc
	}
	meta.UserData = slices.Clone(meta.UserData)
	return engine.MapInfo{PlaceID: r.ID, Metadata: meta}
}

func checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// applyMetadata copies the settable subset of meta onto the record.
func (r *record) applyMetadata(meta engine.MapMetadata) {
	created := r.Meta.Created
	r.Meta = meta
	r.Meta.Created = created
	if meta.Location != nil {
		loc := *meta.Location
		r.Meta.Location = &loc
	}
	r.Meta.UserData = slices.Clone(meta.UserData)
}

func validateMetadata(meta engine.MapMetadata) error {
	if len(meta.UserData) > 0 && !json.Valid(meta.UserData) {
		return ErrInvalidUserData
	}
	return nil
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\.`)
}

func sortRecords(recs []engine.MapInfo) []engine.MapInfo {
	slices.SortStableFunc(recs, func(a, b engine.MapInfo) int {
		if c := a.Metadata.Created.Compare(b.Metadata.Created); c != 0 {
			return c
		}
		return strings.Compare(a.PlaceID, b.PlaceID)
	})
	return recs
}
