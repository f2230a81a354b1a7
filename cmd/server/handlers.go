//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/clock"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/library"
	"github.com/himanishpuri/BeatPulse/pkg/logger"
	"github.com/himanishpuri/BeatPulse/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	pipeline *beatpulse.Pipeline
	library  *library.Library
	decoder  beatpulse.Decoder
	config   *ServerConfig
	log      beatpulse.Logger

	// session ID -> track ID
	sessionTracks sync.Map
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	MediaDir       string
	AllowedOrigins []string
	LogRequests    bool
}

// NewServer creates a new server instance
func NewServer(pipeline *beatpulse.Pipeline, lib *library.Library, config *ServerConfig) *Server {
	return &Server{
		pipeline: pipeline,
		library:  lib,
		decoder:  &audio.FileDecoder{TempDir: config.TempDir},
		config:   config,
		log:      logger.GetLogger().Named("server"),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "BeatPulse API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":      "GET /health",
			"metrics":     "GET /api/health/metrics",
			"tracks":      "GET /api/tracks",
			"addTrack":    "POST /api/tracks",
			"getTrack":    "GET /api/tracks/{id}",
			"deleteTrack": "DELETE /api/tracks/{id}",
			"analyze":     "POST /api/analyze",
			"loadSession": "POST /api/session",
			"session":     "GET /api/session",
			"reanalyze":   "POST /api/session/reanalyze",
			"beat":        "GET /api/session/beat?position={samples}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	count, err := s.library.Count()
	if err != nil {
		s.log.Errorf("Failed to get track count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	resp := MetricsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		TrackCount:   count,
	}
	if cur := s.pipeline.Current(); cur != nil {
		resp.SessionID = cur.ID
		resp.SessionReady = cur.Ready()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListTracks handles GET /api/tracks
func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.library.List()
	if err != nil {
		s.log.Errorf("Failed to list tracks: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve tracks")
		return
	}

	dtos := make([]TrackDTO, len(tracks))
	for i, t := range tracks {
		dtos[i] = trackDTO(t)
	}

	s.respondJSON(w, http.StatusOK, ListTracksResponse{
		Tracks: dtos,
		Count:  len(dtos),
	})
}

// handleGetTrack handles GET /api/tracks/{id}
func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request, trackID string) {
	track, err := s.library.Get(trackID)
	if err != nil {
		s.respondTrackError(w, trackID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, trackDTO(track))
}

// handleDeleteTrack handles DELETE /api/tracks/{id}
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request, trackID string) {
	track, err := s.library.Get(trackID)
	if err != nil {
		s.respondTrackError(w, trackID, err)
		return
	}

	if err := s.library.Delete(trackID); err != nil {
		s.log.Errorf("Failed to delete track %s: %v", trackID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to delete track")
		return
	}

	// Uploaded files belong to the server; files registered from elsewhere are left alone.
	if s.ownsFile(track.Path) {
		if err := utils.DeleteFile(track.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("Failed to remove media file %s: %v", track.Path, err)
		}
	}

	s.log.Infof("Deleted track: %s (ID: %s)", track.Title, trackID)
	s.respondJSON(w, http.StatusOK, DeleteTrackResponse{
		Message: "Track deleted successfully",
		ID:      trackID,
	})
}

func (s *Server) respondTrackError(w http.ResponseWriter, trackID string, err error) {
	if errors.Is(err, library.ErrTrackNotFound) {
		s.log.Warnf("Track not found: %s", trackID)
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Track with ID %s not found", trackID))
		return
	}
	s.log.Errorf("Failed to load track %s: %v", trackID, err)
	s.respondError(w, http.StatusInternalServerError, "Failed to retrieve track")
}

func (s *Server) ownsFile(path string) bool {
	mediaDir, err := filepath.Abs(s.config.MediaDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(mediaDir, path)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// handleAddTrack handles POST /api/tracks (multipart file upload)
func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(MaxTrackUploadBytes); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	title := r.FormValue("title")
	artist := r.FormValue("artist")

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.log.Errorf("Failed to get audio file: %v", err)
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	mediaPath, err := s.storeUpload(file, header.Filename)
	if err != nil {
		s.log.Errorf("Failed to store upload: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}

	in, err := library.Describe(ctx, mediaPath, title, artist, s.decoder)
	if err != nil {
		utils.DeleteFile(mediaPath)
		s.log.Errorf("Failed to read uploaded audio: %v", err)
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Unsupported audio: %v", err))
		return
	}
	if title == "" && in.Title == "" {
		in.Title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	track, err := s.library.Register(in)
	if err != nil {
		utils.DeleteFile(mediaPath)
		s.log.Errorf("Failed to register track: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to add track: %v", err))
		return
	}

	s.log.Infof("Added track: %s (ID: %s)", track.Title, track.ID)
	s.respondJSON(w, http.StatusCreated, AddTrackResponse{
		Message: "Track added successfully",
		Track:   trackDTO(track),
	})
}

// storeUpload writes an upload to the temp dir, then moves it into the
// media dir under a unique name.
func (s *Server) storeUpload(src io.Reader, filename string) (string, error) {
	if err := utils.MakeDir(s.config.TempDir); err != nil {
		return "", err
	}
	if err := utils.MakeDir(s.config.MediaDir); err != nil {
		return "", err
	}

	name := uuid.NewString() + "_" + filepath.Base(filename)
	tempFile := filepath.Join(s.config.TempDir, "upload_"+name)

	out, err := os.Create(tempFile)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		utils.DeleteFile(tempFile)
		return "", err
	}
	if err := out.Close(); err != nil {
		utils.DeleteFile(tempFile)
		return "", err
	}

	mediaPath, err := filepath.Abs(filepath.Join(s.config.MediaDir, name))
	if err != nil {
		utils.DeleteFile(tempFile)
		return "", err
	}
	if err := utils.MoveFile(tempFile, mediaPath); err != nil {
		utils.DeleteFile(tempFile)
		return "", err
	}
	return mediaPath, nil
}

// handleAnalyze handles POST /api/analyze (multipart upload, synchronous)
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(MaxAnalyzeUploadBytes); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.log.Errorf("Failed to get audio file: %v", err)
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	buf, err := s.decoder.Decode(ctx, header.Filename, file)
	if err != nil {
		s.log.Warnf("Failed to decode %s: %v", header.Filename, err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.log.Infof("Analyzing uploaded file: %s", header.Filename)
	a, err := s.pipeline.Analyze(ctx, buf)
	if err != nil {
		s.log.Errorf("Failed to analyze %s: %v", header.Filename, err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to analyze audio: %v", err))
		return
	}

	dto := analysisDTO(a, r.FormValue("peaks") != "false")
	dto.DurationMs = buf.Duration().Milliseconds()
	s.respondJSON(w, http.StatusOK, dto)
}

// handleLoadSession handles POST /api/session
func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	var req LoadSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Errorf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	track, err := s.library.Get(req.TrackID)
	if err != nil {
		s.respondTrackError(w, req.TrackID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	session, err := s.pipeline.LoadFile(ctx, track.Path)
	if err != nil {
		var decErr *beatpulse.DecodeError
		if errors.As(err, &decErr) {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.log.Errorf("Failed to load track %s: %v", track.ID, err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load track: %v", err))
		return
	}
	s.sessionTracks.Store(session.ID, track.ID)

	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := session.Wait(ctx); err != nil && ctx.Err() != nil {
			s.respondError(w, http.StatusGatewayTimeout, "Analysis did not finish in time")
			return
		}
		status = http.StatusOK
	}

	s.respondJSON(w, status, s.sessionDTO(session))
}

// handleGetSession handles GET /api/session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session := s.pipeline.Current()
	if session == nil {
		s.respondError(w, http.StatusNotFound, beatpulse.ErrNoSession.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.sessionDTO(session))
}

// handleReanalyze handles POST /api/session/reanalyze
func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	_, err := s.pipeline.Reanalyze(ctx)
	switch {
	case errors.Is(err, beatpulse.ErrNoSession):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, beatpulse.ErrSuperseded):
		s.respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Re-analysis failed: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, s.sessionDTO(s.pipeline.Current()))
}

// handleBeat handles GET /api/session/beat. Without a position the server
// derives one from the time since the session was loaded.
func (s *Server) handleBeat(w http.ResponseWriter, r *http.Request) {
	session := s.pipeline.Current()

	var position int
	if raw := r.URL.Query().Get("position"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "position must be an integer sample index")
			return
		}
		position = p
	} else if session != nil {
		position = clock.PositionAt(time.Since(session.LoadedAt), session.SampleRate())
	}

	s.respondJSON(w, http.StatusOK, BeatResponse{
		Position: position,
		Beat:     s.pipeline.IsBeatNear(position),
		Ready:    session != nil && session.Ready(),
	})
}

func (s *Server) sessionDTO(session *beatpulse.Session) SessionDTO {
	dto := SessionDTO{
		ID:         session.ID,
		Generation: session.Generation,
		Name:       session.Name,
		SampleRate: session.SampleRate(),
		DurationMs: session.Duration().Milliseconds(),
		LoadedAt:   session.LoadedAt,
		Ready:      session.Ready(),
		Analysis:   analysisDTO(session.Analysis(), false),
	}
	if trackID, ok := s.sessionTracks.Load(session.ID); ok {
		dto.TrackID = trackID.(string)
	}
	if err := session.Err(); err != nil {
		dto.Error = err.Error()
	}
	return dto
}

// handleTracks routes requests to /api/tracks
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTracks(w, r)
	case http.MethodPost:
		s.handleAddTrack(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleTrack routes requests to /api/tracks/{id}
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tracks/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Track ID required")
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid track ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetTrack(w, r, id)
	case http.MethodDelete:
		s.handleDeleteTrack(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAnalyzeRoute routes requests to /api/analyze
func (s *Server) handleAnalyzeRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleAnalyze(w, r)
}

// handleSession routes requests to /api/session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetSession(w, r)
	case http.MethodPost:
		s.handleLoadSession(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleReanalyzeRoute routes requests to /api/session/reanalyze
func (s *Server) handleReanalyzeRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleReanalyze(w, r)
}

// handleBeatRoute routes requests to /api/session/beat
func (s *Server) handleBeatRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleBeat(w, r)
}
