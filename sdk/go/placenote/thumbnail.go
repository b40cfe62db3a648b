package placenote

import (
	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
)

// CaptureFunc grabs the current camera image as an encoded thumbnail.
type CaptureFunc func() ([]byte, error)

// ThumbnailSelector keeps the frame that tracked the most landmarks during a
// session, for use as the map's localization hint. It lives entirely on the
// consumer goroutine.
type ThumbnailSelector struct {
	m       *Manager
	capture CaptureFunc
	reg     *Registration

	maxTracked int
	image      []byte
}

// NewThumbnailSelector subscribes to m and starts tracking candidates.
func NewThumbnailSelector(m *Manager, capture CaptureFunc) *ThumbnailSelector {
	s := &ThumbnailSelector{m: m, capture: capture, maxTracked: -1}
	s.reg = m.subscribe(
		poseBinding(s.onPose),
		statusBinding(s.onStatus),
	)
	return s
}

func (s *ThumbnailSelector) onPose(PoseEvent) {
	tracked := len(s.m.GetTrackedFeatures())
	if tracked <= s.maxTracked {
		return
	}
	img, err := s.capture()
	if err != nil {
		s.m.logger.Warn("Thumbnail capture failed", log.Error(err))
		return
	}
	s.maxTracked = tracked
	s.image = img
}

func (s *ThumbnailSelector) onStatus(c StatusChange) {
	if c.Curr == engine.StatusWaiting && c.Prev != engine.StatusWaiting {
		s.reset()
	}
}

func (s *ThumbnailSelector) reset() {
	s.maxTracked = -1
	s.image = nil
}

// Candidate is the best frame captured so far, or nil.
func (s *ThumbnailSelector) Candidate() []byte {
	if s.maxTracked < 0 {
		return nil
	}
	return s.image
}

// Sync uploads the current candidate as the thumbnail of mapID.
func (s *ThumbnailSelector) Sync(mapID string, progress ProgressFunc) error {
	img := s.Candidate()
	if img == nil {
		return ErrNoThumbnail
	}
	return s.m.SyncThumbnail(mapID, img, progress)
}

// Close stops tracking.
func (s *ThumbnailSelector) Close() {
	s.reg.Cancel()
	s.reset()
}
