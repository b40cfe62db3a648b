package engine

import (
	"encoding/json"
	"time"

	"github.com/golang/geo/r3"
)

// Status is the state of the mapping/localization session as reported by the
// engine.
type Status uint8

const (
	// StatusWaiting means no session is running.
	StatusWaiting Status = iota
	// StatusRunning means a session is mapping, or is localized against a map.
	StatusRunning
	// StatusLost means a localization session cannot match the current view
	// against the loaded map.
	StatusLost
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusRunning:
		return "RUNNING"
	case StatusLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Mode is derived from whether a map was loaded before the session started.
type Mode uint8

const (
	ModeMapping Mode = iota
	ModeLocalizing
)

func (m Mode) String() string {
	if m == ModeLocalizing {
		return "localizing"
	}
	return "mapping"
}

// Token is the opaque completion token passed through every asynchronous
// engine call and handed back to its callback.
type Token uint64

// Result is the outcome of a single-shot asynchronous call. On success Msg
// carries the payload (a map ID, a JSON document); on failure, the reason.
type Result struct {
	Success bool
	Msg     string
}

// TransferStatus reports progress of a map, dataset or thumbnail transfer.
type TransferStatus struct {
	MapID            string
	Completed        bool
	Faulted          bool
	BytesTransferred int64
	BytesTotal       int64
}

// Terminal reports whether no further status follows this one.
func (s TransferStatus) Terminal() bool {
	return s.Completed || s.Faulted
}

// Fraction is the share of bytes transferred, clamped to [0, 1].
func (s TransferStatus) Fraction() float64 {
	if s.Completed {
		return 1
	}
	if s.BytesTotal <= 0 || s.BytesTransferred <= 0 {
		return 0
	}
	f := float64(s.BytesTransferred) / float64(s.BytesTotal)
	if f > 1 {
		return 1
	}
	return f
}

// InitParams carry the credential and storage locations used by Initialize.
type InitParams struct {
	APIKey      string
	AppBasePath string
	MapPath     string
}

// Color of a feature point, when the engine knows it.
type Color struct {
	R, G, B uint8
}

// FeaturePoint is a read-only landmark snapshot.
type FeaturePoint struct {
	Index        int       `json:"idx"`
	MeasCount    int       `json:"measCount"`
	MaxViewAngle float64   `json:"maxViewAngle"`
	Point        r3.Vector `json:"point"`
	Color        *Color    `json:"color,omitempty"`
}

// ImagePlane is one plane of a camera frame.
type ImagePlane struct {
	Buf    []byte
	Width  int
	Height int
	Stride int
}

// Frame is a camera image together with the tracker pose it was captured at.
type Frame struct {
	Y    ImagePlane
	VU   ImagePlane
	Pose Pose
}

// Location is a geographic position in degrees and meters.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// MapMetadata is the settable record kept next to a map.
type MapMetadata struct {
	Name     string          `json:"name"`
	Location *Location       `json:"location,omitempty"`
	UserData json.RawMessage `json:"userdata,omitempty"`
	Created  time.Time       `json:"created"`
}

// MapInfo is a map summary as returned by list and search.
type MapInfo struct {
	PlaceID  string      `json:"placeId"`
	Metadata MapMetadata `json:"metadata"`
}

// MapList is the JSON document carried in Result.Msg by list and search.
type MapList struct {
	Places []MapInfo `json:"places"`
}
