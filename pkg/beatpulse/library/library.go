//go:build !js && !wasm
// +build !js,!wasm

// Package library is the sqlite catalog of tracks known to the CLI and server.
// It stores metadata only; analysis results are recomputed on every load.
package library

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/himanishpuri/BeatPulse/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "beatpulse.sqlite3"
const errLibraryNil = "library is nil"

// EnvDBPath overrides DefaultDBFile.
const EnvDBPath = "BEATPULSE_DB_PATH"

var ErrTrackNotFound = errors.New("track not found")

type Library struct {
	DB *gorm.DB
	db *sql.DB
}

type Track struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title      string    `gorm:"index:idx_track_meta,priority:1" json:"title"`
	Artist     string    `gorm:"index:idx_track_meta,priority:2" json:"artist"`
	FileName   string    `json:"file_name"`
	Path       string    `gorm:"uniqueIndex:idx_track_path" json:"path"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TrackInput describes a track to register.
type TrackInput struct {
	Title      string
	Artist     string
	Path       string
	SampleRate int
	Channels   int
	DurationMs int
}

// Open uses BEATPULSE_DB_PATH, falling back to DefaultDBFile.
func Open() (*Library, error) {
	dbPath := os.Getenv(EnvDBPath)
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return OpenPath(dbPath)
}

func OpenPath(dbPath string) (*Library, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Track{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Library{DB: db, db: sqlDB}, nil
}

func (l *Library) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Register adds a track. Registering a path that is already known returns
// the existing track, filling in any metadata it was missing.
func (l *Library) Register(in TrackInput) (Track, error) {
	if l == nil || l.DB == nil {
		return Track{}, errors.New(errLibraryNil)
	}
	if in.Path == "" {
		return Track{}, errors.New("track path is required")
	}

	path, err := filepath.Abs(in.Path)
	if err != nil {
		return Track{}, fmt.Errorf("resolving track path: %w", err)
	}

	var track Track
	err = l.DB.Where("path = ?", path).First(&track).Error
	if err == nil {
		if err := l.fillMissing(&track, in); err != nil {
			return Track{}, err
		}
		return track, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Track{}, fmt.Errorf("querying existing track: %w", err)
	}

	track = Track{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Artist:     in.Artist,
		FileName:   filepath.Base(path),
		Path:       path,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
		DurationMs: in.DurationMs,
	}
	if track.Title == "" {
		track.Title = strings.TrimSuffix(track.FileName, filepath.Ext(track.FileName))
	}

	if err := l.DB.Create(&track).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "constraint failed") {
			if fetchErr := l.DB.Where("path = ?", path).First(&track).Error; fetchErr != nil {
				return Track{}, fmt.Errorf("fetching track after constraint violation: %w", fetchErr)
			}
			return track, nil
		}
		return Track{}, fmt.Errorf("creating track: %w", err)
	}

	return track, nil
}

func (l *Library) fillMissing(track *Track, in TrackInput) error {
	updates := map[string]interface{}{}
	if track.Artist == "" && in.Artist != "" {
		updates["artist"] = in.Artist
		track.Artist = in.Artist
	}
	if track.SampleRate == 0 && in.SampleRate != 0 {
		updates["sample_rate"] = in.SampleRate
		track.SampleRate = in.SampleRate
	}
	if track.Channels == 0 && in.Channels != 0 {
		updates["channels"] = in.Channels
		track.Channels = in.Channels
	}
	if track.DurationMs == 0 && in.DurationMs != 0 {
		updates["duration_ms"] = in.DurationMs
		track.DurationMs = in.DurationMs
	}
	if len(updates) == 0 {
		return nil
	}
	if err := l.DB.Model(track).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating track metadata: %w", err)
	}
	return nil
}

func (l *Library) Get(id string) (Track, error) {
	if l == nil || l.DB == nil {
		return Track{}, errors.New(errLibraryNil)
	}

	var track Track
	if err := l.DB.Where("id = ?", id).First(&track).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
		}
		return Track{}, fmt.Errorf("querying track: %w", err)
	}
	return track, nil
}

// List returns every track, oldest first.
func (l *Library) List() ([]Track, error) {
	if l == nil || l.DB == nil {
		return nil, errors.New(errLibraryNil)
	}

	var tracks []Track
	if err := l.DB.Order("created_at asc").Order("id asc").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	return tracks, nil
}

func (l *Library) Delete(id string) error {
	if l == nil || l.DB == nil {
		return errors.New(errLibraryNil)
	}

	res := l.DB.Where("id = ?", id).Delete(&Track{})
	if res.Error != nil {
		return fmt.Errorf("deleting track: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}
	return nil
}

// Count returns the number of tracks.
func (l *Library) Count() (int64, error) {
	if l == nil || l.DB == nil {
		return 0, errors.New(errLibraryNil)
	}

	var n int64
	if err := l.DB.Model(&Track{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting tracks: %w", err)
	}
	return n, nil
}
