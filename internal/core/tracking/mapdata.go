package tracking

import (
	"encoding/json"
	"fmt"

	"github.com/placenote/placenote/internal/core/engine"
)

const mapDataVersion = 1

// MapData is the serialized content of a map: its keyframes and landmarks.
type MapData struct {
	Version   int                   `json:"version"`
	Keyframes []engine.Pose         `json:"keyframes"`
	Landmarks []engine.FeaturePoint `json:"landmarks"`
}

// Encode serializes m for upload.
func (m MapData) Encode() ([]byte, error) {
	m.Version = mapDataVersion
	return json.Marshal(m)
}

// DecodeMapData parses downloaded map content.
func DecodeMapData(data []byte) (*MapData, error) {
	var m MapData
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode map data: %w", err)
	}
	if m.Version != mapDataVersion {
		return nil, fmt.Errorf("unsupported map data version %d", m.Version)
	}
	if len(m.Keyframes) == 0 {
		return nil, engine.ErrEmptyMap
	}
	return &m, nil
}
