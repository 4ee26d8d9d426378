package geo

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// Stats summarizes a parsed track for library panels and API responses.
type Stats struct {
	DistanceMeters float64   `json:"distanceMeters"`
	ElevationGain  float64   `json:"elevationGain"`
	ElevationLoss  float64   `json:"elevationLoss"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	DurationMillis int64     `json:"durationMillis"`
}

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Ele  float64 `xml:"ele"`
	Time string  `xml:"time"`
}

// ParseGPX reads a GPX document and returns its first track, segments
// flattened in order. Points without a parseable timestamp keep Time zero;
// PositionAt then degrades to the first-coordinate fallback.
func ParseGPX(r io.Reader) (*Track, error) {
	var doc gpxFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse gpx: %w", err)
	}
	if len(doc.Tracks) == 0 {
		return nil, fmt.Errorf("gpx file contains no tracks")
	}

	src := doc.Tracks[0]
	track := &Track{Name: src.Name}
	for _, seg := range src.Segments {
		for _, pt := range seg.Points {
			p := Point{Lon: pt.Lon, Lat: pt.Lat, Ele: pt.Ele}
			if pt.Time != "" {
				if ts, err := time.Parse(time.RFC3339, pt.Time); err == nil {
					p.Time = ts.UnixMilli()
				}
			}
			track.Points = append(track.Points, p)
		}
	}
	if len(track.Points) == 0 {
		return nil, fmt.Errorf("gpx track contains no points")
	}

	return track, nil
}

// ParseGPXFile parses a GPX document from disk.
func ParseGPXFile(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gpx file: %w", err)
	}
	defer f.Close()
	return ParseGPX(f)
}

// ComputeStats derives distance, elevation and time aggregates from a track.
func ComputeStats(t *Track) Stats {
	var s Stats
	if len(t.Points) == 0 {
		return s
	}

	for i := 1; i < len(t.Points); i++ {
		prev := t.Points[i-1]
		cur := t.Points[i]
		s.DistanceMeters += haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
		delta := cur.Ele - prev.Ele
		if delta > 0 {
			s.ElevationGain += delta
		} else {
			s.ElevationLoss -= delta
		}
	}

	if t.HasTimes() {
		s.StartTime = time.UnixMilli(t.Points[0].Time).UTC()
		s.EndTime = time.UnixMilli(t.Points[len(t.Points)-1].Time).UTC()
		s.DurationMillis = t.Points[len(t.Points)-1].Time - t.Points[0].Time
	}
	return s
}

const earthRadiusMeters = 6371000

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
