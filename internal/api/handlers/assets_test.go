package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetKind(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		filename string
		want     string
	}{
		{"mp4 video", "video/mp4", "clip.mp4", "video"},
		{"wav audio", "audio/wav", "voiceover.wav", "audio"},
		{"png image", "image/png", "logo.png", "image"},
		{"gpx by extension", "text/xml; charset=utf-8", "ride.gpx", "gpx"},
		{"gpx extension case insensitive", "application/xml", "ride.GPX", "gpx"},
		{"unknown", "application/octet-stream", "data.bin", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assetKind(tt.mimeType, tt.filename))
		})
	}
}
