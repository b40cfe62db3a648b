// Package engine defines the boundary between the session manager and the
// mapping engine that does the actual tracking and map storage.
//
// Asynchronous calls return only a submission error; their outcome is reported
// exactly once through the callback, from an engine goroutine, carrying the
// token that was passed in.
package engine

import "context"

type (
	// ResultFunc receives the outcome of a single-shot call.
	ResultFunc func(tok Token, res Result)
	// TransferFunc receives zero or more in-progress statuses followed by
	// exactly one terminal status.
	TransferFunc func(tok Token, st TransferStatus)
	// PoseFunc receives every pose computed during a session along with the
	// input pose that produced it and the session status at that moment.
	PoseFunc func(tok Token, output, input Pose, status Status)
	// DenseFunc receives dense point cloud updates.
	DenseFunc func(tok Token, points []FeaturePoint)
)

// Engine is the mapping/localization service driven by the session manager.
type Engine interface {
	Initialize(params InitParams, tok Token, cb ResultFunc) error
	Status() Status
	Pose() Pose

	StartSession(extend bool, tok Token, cb PoseFunc) error
	StopSession() error
	SetFrame(frame Frame) error

	AddMap(tok Token, cb ResultFunc) error
	SaveMap(mapID string, tok Token, cb TransferFunc) error
	LoadMap(mapID string, tok Token, cb TransferFunc) error
	DeleteMap(mapID string, tok Token, cb ResultFunc) error
	ListMaps(tok Token, cb ResultFunc) error
	SearchMaps(query SearchQuery, tok Token, cb ResultFunc) error
	GetMetadata(mapID string, tok Token, cb ResultFunc) error
	SetMetadata(mapID string, meta MapMetadata, tok Token, cb ResultFunc) error

	AllLandmarks() []FeaturePoint
	TrackedLandmarks() []FeaturePoint
	EnableDenseMapping(tok Token, cb DenseFunc) error
	DisableDenseMapping() error

	StartRecordDataset(tok Token, cb TransferFunc) error
	SyncThumbnail(mapID string, image []byte, tok Token, cb TransferFunc) error

	Shutdown() error
}

// ProgressFunc is told how many of total bytes have moved so far.
type ProgressFunc func(done, total int64)

// Cloud is the blocking map storage service behind an engine.
type Cloud interface {
	Ping(ctx context.Context, apiKey string) error
	AddMap(ctx context.Context) (string, error)
	Upload(ctx context.Context, mapID string, data []byte, progress ProgressFunc) error
	Download(ctx context.Context, mapID string, progress ProgressFunc) ([]byte, error)
	Delete(ctx context.Context, mapID string) error
	List(ctx context.Context) ([]MapInfo, error)
	Search(ctx context.Context, query SearchQuery) ([]MapInfo, error)
	Metadata(ctx context.Context, mapID string) (MapMetadata, error)
	SetMetadata(ctx context.Context, mapID string, meta MapMetadata) error
	UploadDataset(ctx context.Context, data []byte, progress ProgressFunc) (string, error)
	UploadThumbnail(ctx context.Context, mapID string, image []byte, progress ProgressFunc) error
	Close() error
}
