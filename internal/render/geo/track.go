package geo

// Point is a GPS sample: WGS84 coordinate plus capture time in Unix millis.
// A zero Time means the source lacked per-point timestamps.
type Point struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Ele  float64 `json:"ele,omitempty"`
	Time int64   `json:"time"`
}

// Track is an ordered GPS trace. Timestamps are non-decreasing when present.
type Track struct {
	Name   string  `json:"name,omitempty"`
	Points []Point `json:"points"`
}

// HasTimes reports whether every point carries a timestamp.
func (t *Track) HasTimes() bool {
	if len(t.Points) == 0 {
		return false
	}
	for _, p := range t.Points {
		if p.Time == 0 {
			return false
		}
	}
	return true
}

// StartTime returns the first sample's timestamp in Unix millis, or 0.
func (t *Track) StartTime() int64 {
	if len(t.Points) == 0 {
		return 0
	}
	return t.Points[0].Time
}

// PositionAt returns the interpolated (lon, lat) at offsetSeconds past the
// track's first timestamp. Queries before the first sample return the first
// coordinate, queries past the last return the last. Tracks without usable
// timestamps fall back to the first coordinate. ok is false only for an
// empty track.
func (t *Track) PositionAt(offsetSeconds float64) (lon, lat float64, ok bool) {
	if len(t.Points) == 0 {
		return 0, 0, false
	}
	first := t.Points[0]
	if !t.HasTimes() {
		return first.Lon, first.Lat, true
	}

	target := first.Time + int64(offsetSeconds*1000)
	if target <= first.Time {
		return first.Lon, first.Lat, true
	}
	last := t.Points[len(t.Points)-1]
	if target >= last.Time {
		return last.Lon, last.Lat, true
	}

	for i := 0; i < len(t.Points)-1; i++ {
		p1 := t.Points[i]
		p2 := t.Points[i+1]
		if target < p1.Time || target >= p2.Time {
			continue
		}
		span := p2.Time - p1.Time
		if span == 0 {
			return p2.Lon, p2.Lat, true
		}
		ratio := float64(target-p1.Time) / float64(span)
		return p1.Lon + (p2.Lon-p1.Lon)*ratio, p1.Lat + (p2.Lat-p1.Lat)*ratio, true
	}

	return first.Lon, first.Lat, true
}
