package project

import (
	"math"
	"sort"
)

// ActiveClips returns the track's clips active at absolute time t, sorted by
// start ascending with a stable tie-break, which fixes draw order within a
// track.
func (s *State) ActiveClips(track *Track, t float64) []Clip {
	active := make([]Clip, 0, len(track.ClipIDs))
	for _, id := range track.ClipIDs {
		clip, ok := s.Clips[id]
		if !ok {
			continue
		}
		if clip.ActiveAt(t) {
			active = append(active, clip)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Start < active[j].Start
	})
	return active
}

// collisionBuffer absorbs floating point noise at clip edges so that
// back-to-back clips do not register as overlapping.
const collisionBuffer = 1e-4

// CheckCollision reports whether a [start, start+duration) range overlaps any
// clip in trackClips, ignoring excludeClipID.
func CheckCollision(start, duration float64, trackClips []Clip, excludeClipID string) bool {
	end := start + duration
	for _, clip := range trackClips {
		if clip.ID == excludeClipID {
			continue
		}
		if start < clip.End()-collisionBuffer && end > clip.Start+collisionBuffer {
			return true
		}
	}
	return false
}

// SnapPoints collects the time points a dragged clip should snap to: zero,
// the playhead and every clip edge, deduplicated and sorted.
func SnapPoints(clips map[string]Clip, currentTime float64, includeStart bool) []float64 {
	seen := make(map[float64]struct{})
	if includeStart {
		seen[0] = struct{}{}
	}
	seen[currentTime] = struct{}{}
	for _, clip := range clips {
		seen[clip.Start] = struct{}{}
		seen[clip.End()] = struct{}{}
	}

	points := make([]float64, 0, len(seen))
	for p := range seen {
		points = append(points, p)
	}
	sort.Float64s(points)
	return points
}

// NearestSnapPoint returns the snap point closest to time within tolerance,
// or false if none qualifies.
func NearestSnapPoint(time float64, points []float64, tolerance float64) (float64, bool) {
	best := 0.0
	found := false
	minDiff := tolerance
	for _, p := range points {
		diff := math.Abs(p - time)
		if diff <= minDiff {
			minDiff = diff
			best = p
			found = true
		}
	}
	return best, found
}

// NearestValidTime finds the closest collision-free start time for a clip of
// the given duration near targetStart. Candidates are the target itself, time
// zero, and positions flush against existing clips. Returns false when no
// valid spot lies within tolerance.
func NearestValidTime(targetStart, duration float64, trackClips []Clip, tolerance float64, excludeClipID string) (float64, bool) {
	if !CheckCollision(targetStart, duration, trackClips, excludeClipID) {
		return targetStart, true
	}

	candidates := map[float64]struct{}{0: {}}
	for _, clip := range trackClips {
		if clip.ID == excludeClipID {
			continue
		}
		candidates[clip.End()] = struct{}{}
		candidates[clip.Start-duration] = struct{}{}
	}

	best := 0.0
	found := false
	minDiff := tolerance
	for candidate := range candidates {
		if candidate < 0 {
			continue
		}
		if CheckCollision(candidate, duration, trackClips, excludeClipID) {
			continue
		}
		diff := math.Abs(candidate - targetStart)
		if diff <= minDiff {
			minDiff = diff
			best = candidate
			found = true
		}
	}
	return best, found
}
