// Package geojson exports an agent snapshot as a GeoJSON FeatureCollection
// of points, one per cab.
package geojson

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/cabreplay/internal/replay"
)

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a single GeoJSON point feature.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry holds [longitude, latitude] as GeoJSON requires.
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Properties describe the cab at a point.
type Properties struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Code   int    `json:"status_code"`
	Style  string `json:"marker-color,omitempty"`
}

// StyleFunc maps a status to a marker style. Presentation is the caller's
// choice; a nil StyleFunc leaves features unstyled.
type StyleFunc func(replay.Status) string

// DefaultPalette colours free cabs green, cabs picking up amber, busy cabs
// red and unknown ones grey.
func DefaultPalette(s replay.Status) string {
	switch s {
	case replay.StatusFree:
		return "#2e7d32"
	case replay.StatusPickingUp:
		return "#f9a825"
	case replay.StatusBusy:
		return "#c62828"
	}
	return "#9e9e9e"
}

// Build converts agents into a feature collection in the given order.
func Build(agents []replay.AgentRecord, style StyleFunc) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(agents))}
	for _, a := range agents {
		f := Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{a.Longitude, a.Latitude}},
			Properties: Properties{
				ID:     a.ID,
				Status: a.Status.String(),
				Code:   int(a.Status),
			},
		}
		if style != nil {
			f.Properties.Style = style(a.Status)
		}
		fc.Features = append(fc.Features, f)
	}
	return fc
}

// Write encodes agents as indented GeoJSON to w.
func Write(w io.Writer, agents []replay.AgentRecord, style StyleFunc) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Build(agents, style)); err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return nil
}
