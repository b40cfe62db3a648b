package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean radius used for great-circle distances.
const EarthRadiusMeters = 6371008.8

// GeoRadius constrains results to maps within RadiusMeters of a point.
type GeoRadius struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius"`
}

// SearchQuery narrows a map listing. All set criteria must hold; zero values
// leave that dimension unconstrained.
type SearchQuery struct {
	Name          string     `json:"name,omitempty"`
	Near          *GeoRadius `json:"near,omitempty"`
	CreatedAfter  time.Time  `json:"createdAfter,omitempty"`
	CreatedBefore time.Time  `json:"createdBefore,omitempty"`
	// UserData is a filter over the map's user payload: clauses of the form
	// path=value joined by "&&", where path is a dot-separated key path.
	UserData string `json:"userdata,omitempty"`
}

// Validate checks that the query can be evaluated.
func (q SearchQuery) Validate() error {
	if q.Near != nil && q.Near.RadiusMeters < 0 {
		return fmt.Errorf("negative search radius %v", q.Near.RadiusMeters)
	}
	if !q.CreatedAfter.IsZero() && !q.CreatedBefore.IsZero() && q.CreatedBefore.Before(q.CreatedAfter) {
		return fmt.Errorf("created window is empty")
	}
	_, err := parseFilter(q.UserData)
	return err
}

// Matches reports whether info satisfies every criterion of q. An invalid
// user data filter matches nothing.
func (q SearchQuery) Matches(info MapInfo) bool {
	meta := info.Metadata
	if q.Name != "" && !strings.Contains(strings.ToLower(meta.Name), strings.ToLower(q.Name)) {
		return false
	}
	if q.Near != nil {
		if meta.Location == nil {
			return false
		}
		if DistanceMeters(q.Near.Latitude, q.Near.Longitude, meta.Location.Latitude, meta.Location.Longitude) > q.Near.RadiusMeters {
			return false
		}
	}
	if !q.CreatedAfter.IsZero() && meta.Created.Before(q.CreatedAfter) {
		return false
	}
	if !q.CreatedBefore.IsZero() && meta.Created.After(q.CreatedBefore) {
		return false
	}
	if q.UserData != "" {
		clauses, err := parseFilter(q.UserData)
		if err != nil {
			return false
		}
		return matchUserData(meta.UserData, clauses)
	}
	return true
}

// DistanceMeters is the great-circle distance between two lat/long points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

type filterClause struct {
	path  []string
	value string
}

func parseFilter(expr string) ([]filterClause, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	var clauses []filterClause
	for _, raw := range strings.Split(expr, "&&") {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, strings.TrimSpace(raw))
		}
		clauses = append(clauses, filterClause{
			path:  strings.Split(key, "."),
			value: strings.Trim(strings.TrimSpace(value), `"`),
		})
	}
	return clauses, nil
}

func matchUserData(raw json.RawMessage, clauses []filterClause) bool {
	if len(raw) == 0 {
		return false
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for _, c := range clauses {
		v, ok := lookup(doc, c.path)
		if !ok || !scalarEquals(v, c.value) {
			return false
		}
	}
	return true
}

func lookup(doc any, path []string) (any, bool) {
	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func scalarEquals(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case bool:
		return strconv.FormatBool(t) == want
	case float64:
		w, err := strconv.ParseFloat(want, 64)
		return err == nil && w == t
	case nil:
		return want == "null"
	default:
		return false
	}
}
