//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/library"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/tempo"
)

// Upload limits
const (
	MaxTrackUploadBytes   = 100 << 20
	MaxAnalyzeUploadBytes = 50 << 20
)

// LoadSessionRequest is the request body for POST /api/session
type LoadSessionRequest struct {
	TrackID string `json:"track_id"`
}

// Validate checks if the request is valid
func (r *LoadSessionRequest) Validate() error {
	if r.TrackID == "" {
		return fmt.Errorf("track_id is required")
	}
	if _, err := uuid.Parse(r.TrackID); err != nil {
		return fmt.Errorf("invalid track_id: %v", err)
	}
	return nil
}

// TrackDTO represents a track in API responses
type TrackDTO struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist,omitempty"`
	FileName   string    `json:"file_name"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func trackDTO(t library.Track) TrackDTO {
	return TrackDTO{
		ID:         t.ID,
		Title:      t.Title,
		Artist:     t.Artist,
		FileName:   t.FileName,
		SampleRate: t.SampleRate,
		Channels:   t.Channels,
		DurationMs: t.DurationMs,
		CreatedAt:  t.CreatedAt,
	}
}

// ListTracksResponse is the response for GET /api/tracks
type ListTracksResponse struct {
	Tracks []TrackDTO `json:"tracks"`
	Count  int        `json:"count"`
}

// AddTrackResponse is the response for successful track addition
type AddTrackResponse struct {
	Message string   `json:"message"`
	Track   TrackDTO `json:"track"`
}

// DeleteTrackResponse is the response for DELETE /api/tracks/{id}
type DeleteTrackResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// AnalysisDTO is a finished analysis
type AnalysisDTO struct {
	SampleRate    int               `json:"sample_rate"`
	DurationMs    int64             `json:"duration_ms,omitempty"`
	Tolerance     int               `json:"tolerance"`
	PeakCount     int               `json:"peak_count"`
	Peaks         []peaks.Peak      `json:"peaks,omitempty"`
	Tempo         *tempo.Candidate  `json:"tempo,omitempty"`
	Candidates    []tempo.Candidate `json:"tempo_candidates,omitempty"`
	ReferenceRate int               `json:"reference_rate,omitempty"`
	ElapsedMs     int64             `json:"elapsed_ms"`
}

func analysisDTO(a *beatpulse.Analysis, withPeaks bool) *AnalysisDTO {
	if a == nil {
		return nil
	}
	dto := &AnalysisDTO{
		SampleRate:    a.SampleRate,
		Tolerance:     a.Tolerance,
		PeakCount:     len(a.Peaks),
		Candidates:    a.Candidates,
		ReferenceRate: a.ReferenceRate,
		ElapsedMs:     a.Elapsed.Milliseconds(),
	}
	if a.HasTempo {
		c := a.Tempo
		dto.Tempo = &c
	}
	if withPeaks {
		dto.Peaks = a.Peaks
	}
	return dto
}

// SessionDTO describes the current session
type SessionDTO struct {
	ID         string       `json:"id"`
	Generation uint64       `json:"generation"`
	TrackID    string       `json:"track_id,omitempty"`
	Name       string       `json:"name"`
	SampleRate int          `json:"sample_rate"`
	DurationMs int64        `json:"duration_ms"`
	LoadedAt   time.Time    `json:"loaded_at"`
	Ready      bool         `json:"ready"`
	Error      string       `json:"error,omitempty"`
	Analysis   *AnalysisDTO `json:"analysis,omitempty"`
}

// BeatResponse is the response for GET /api/session/beat
type BeatResponse struct {
	Position int  `json:"position"`
	Beat     bool `json:"beat"`
	Ready    bool `json:"ready"`
}

// MetricsResponse provides server health and library metrics
type MetricsResponse struct {
	Status       string `json:"status"`
	DatabasePath string `json:"database_path"`
	TrackCount   int64  `json:"track_count"`
	SessionID    string `json:"session_id,omitempty"`
	SessionReady bool   `json:"session_ready"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
