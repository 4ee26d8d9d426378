package project

import (
	"encoding/json"
	"fmt"

	"github.com/tracklight/backend/internal/render/anim"
)

// Parse decodes a project file and normalizes it for rendering: transforms
// default to full-frame when absent, keyframe sequences are ordered, and
// structural references are validated.
func Parse(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("invalid project file: %w", err)
	}
	state.normalize()
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *State) normalize() {
	if s.Assets == nil {
		s.Assets = map[string]Asset{}
	}
	if s.Tracks == nil {
		s.Tracks = map[string]Track{}
	}
	if s.Clips == nil {
		s.Clips = map[string]Clip{}
	}
	for id, track := range s.Tracks {
		if track.Volume == 0 && !track.IsMuted {
			track.Volume = 1
			s.Tracks[id] = track
		}
	}
	for id, clip := range s.Clips {
		if clip.Transform == (Transform{}) {
			clip.Transform = DefaultTransform()
		}
		for prop := range clip.Keyframes {
			anim.SortKeyframes(clip.Keyframes[prop])
		}
		s.Clips[id] = clip
	}
}

// Validate checks structural invariants: positive canvas and timing values,
// resolvable references, valid clip ranges, non-decreasing GPS timestamps,
// and collision-free clips per track.
func (s *State) Validate() error {
	if s.Settings.Width <= 0 || s.Settings.Height <= 0 {
		return fmt.Errorf("project has invalid canvas size %dx%d", s.Settings.Width, s.Settings.Height)
	}
	if s.Settings.FPS <= 0 {
		return fmt.Errorf("project has invalid fps %v", s.Settings.FPS)
	}
	if s.Settings.Duration < 0 {
		return fmt.Errorf("project has negative duration %v", s.Settings.Duration)
	}

	for _, trackID := range s.TrackOrder {
		if _, ok := s.Tracks[trackID]; !ok {
			return fmt.Errorf("track order references unknown track %q", trackID)
		}
	}

	for id, asset := range s.Assets {
		if asset.Geo == nil {
			continue
		}
		points := asset.Geo.Points
		for i := 1; i < len(points); i++ {
			if points[i].Time < points[i-1].Time {
				return fmt.Errorf("asset %q has decreasing gps timestamps", id)
			}
		}
	}

	for _, track := range s.Tracks {
		clips := make([]Clip, 0, len(track.ClipIDs))
		for _, clipID := range track.ClipIDs {
			clip, ok := s.Clips[clipID]
			if !ok {
				return fmt.Errorf("track %q references unknown clip %q", track.ID, clipID)
			}
			if clip.Duration <= 0 {
				return fmt.Errorf("clip %q has non-positive duration", clipID)
			}
			if clip.Start < 0 {
				return fmt.Errorf("clip %q starts before zero", clipID)
			}
			if clip.Type != ClipText && clip.AssetID != "" {
				if _, ok := s.Assets[clip.AssetID]; !ok {
					return fmt.Errorf("clip %q references unknown asset %q", clipID, clip.AssetID)
				}
			}
			if CheckCollision(clip.Start, clip.Duration, clips, clip.ID) {
				return fmt.Errorf("clip %q overlaps another clip on track %q", clipID, track.ID)
			}
			clips = append(clips, clip)
		}
	}

	return nil
}
