package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placenote/placenote/internal/core/engine"
)

func TestParseFloats(t *testing.T) {
	v, err := parseFloats("52.5, 13.4,100", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{52.5, 13.4, 100}, v)

	_, err = parseFloats("1,2", 3, 3)
	assert.Error(t, err)
	_, err = parseFloats("1,x", 2, 3)
	assert.Error(t, err)
}

func TestParseQuery(t *testing.T) {
	searchFlags.name = "lobby"
	searchFlags.near = "52.5,13.4,250"
	searchFlags.after = "2024-01-02T00:00:00Z"
	searchFlags.userdata = "floor=2"
	defer func() { searchFlags = struct{ name, near, after, before, userdata string }{} }()

	q, err := parseQuery()
	require.NoError(t, err)
	assert.Equal(t, "lobby", q.Name)
	require.NotNil(t, q.Near)
	assert.InDelta(t, 250, q.Near.RadiusMeters, 1e-9)
	assert.Equal(t, 2024, q.CreatedAfter.Year())
	assert.True(t, q.CreatedBefore.IsZero())

	searchFlags.before = "2023-01-01T00:00:00Z"
	_, err = parseQuery()
	assert.Error(t, err, "empty created window")
}

func TestPrintMaps(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMaps(&buf, nil))
	assert.Equal(t, "No maps found.\n", buf.String())

	buf.Reset()
	require.NoError(t, printMaps(&buf, []engine.MapInfo{{
		PlaceID: "abc",
		Metadata: engine.MapMetadata{
			Name:     "Office",
			Location: &engine.Location{Latitude: 1, Longitude: 2},
			Created:  time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		},
	}}))
	out := buf.String()
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "Office")
	assert.Contains(t, out, "1.00000,2.00000")
	assert.Contains(t, out, "2024-05-06 07:08:09")
}

func TestDoneFunc(t *testing.T) {
	var buf bytes.Buffer
	var got error
	finished := false
	finish := func(err error) { got, finished = err, true }

	doneFunc(&buf, "Deleted abc", finish)(true, "")
	assert.True(t, finished)
	assert.NoError(t, got)
	assert.Equal(t, "Deleted abc\n", buf.String())

	doneFunc(&buf, "x", finish)(false, "map not found")
	assert.EqualError(t, got, "map not found")
}
