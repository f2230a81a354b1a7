package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/clock"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/library"
	"github.com/himanishpuri/BeatPulse/pkg/logger"
)

// Global flags
var (
	dbPath     string
	tempDir    string
	autoPlay   bool
	blockSize  int
	trackRate  bool
	rendererID string
)

func init() {
	// Global flags that can be used with any command
	flag.StringVar(&dbPath, "db", getEnvOrDefault(library.EnvDBPath, library.DefaultDBFile), "Path to the SQLite track library")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault(beatpulse.EnvTempDir, os.TempDir()), "Directory for temporary audio conversion files")
	flag.BoolVar(&autoPlay, "autoplay", true, "Start playback as soon as analysis finishes (play command)")
	flag.IntVar(&blockSize, "block", clock.DefaultBlockSize, "Playback block size in frames; one beat check per block")
	flag.BoolVar(&trackRate, "track-rate-tempo", false, "Estimate tempo with the track's sample rate instead of 44100")
	flag.StringVar(&rendererID, "renderer", "biquad", "Offline filter implementation: biquad or ffmpeg")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRenderer() (beatpulse.Renderer, error) {
	switch rendererID {
	case "biquad":
		return audio.NewBiquadRenderer(audio.DefaultFilterConfig()), nil
	case "ffmpeg":
		return &audio.FFmpegRenderer{Filter: audio.DefaultFilterConfig(), TempDir: tempDir}, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", rendererID)
	}
}

// createPipeline creates an analysis pipeline with configured options
func createPipeline(extra ...beatpulse.Option) (*beatpulse.Pipeline, error) {
	renderer, err := newRenderer()
	if err != nil {
		return nil, err
	}
	opts := append([]beatpulse.Option{
		beatpulse.WithTempDir(tempDir),
		beatpulse.WithRenderer(renderer),
		beatpulse.WithTrackRateTempo(trackRate),
	}, extra...)
	return beatpulse.NewPipeline(opts...)
}

func openLibrary() (*library.Library, error) {
	return library.OpenPath(dbPath)
}

func main() {
	// Initialize logger
	log := logger.GetLogger()

	flag.Usage = printUsage
	flag.Parse()

	// Print banner
	printBanner()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	log.Infof("Executing command: %s", command)

	switch command {
	case "analyze":
		handleAnalyze(args[1:])
	case "play":
		handlePlay(args[1:])
	case "add":
		handleAdd(args[1:])
	case "list":
		handleList()
	case "delete":
		handleDelete(args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
 ____             _   ____        _
| __ )  ___  __ _| |_|  _ \ _   _| |___  ___
|  _ \ / _ \/ _' | __| |_) | | | | / __|/ _ \
| |_) |  __/ (_| | |_|  __/| |_| | \__ \  __/
|____/ \___|\__,_|\__|_|    \__,_|_|___/\___|

        Beat Estimation CLI Tool
`
	fmt.Println(banner)
}

// resolveTrack accepts either a file path or a library track ID.
func resolveTrack(arg string) (path string, title string, err error) {
	if _, parseErr := uuid.Parse(arg); parseErr != nil {
		return arg, "", nil
	}

	lib, err := openLibrary()
	if err != nil {
		return "", "", fmt.Errorf("opening library: %w", err)
	}
	defer lib.Close()

	track, err := lib.Get(arg)
	if err != nil {
		return "", "", err
	}
	return track.Path, track.Title, nil
}

func handleAnalyze(args []string) {
	log := logger.GetLogger()

	analyzeCmd := flag.NewFlagSet("analyze", flag.ExitOnError)
	showPeaks := analyzeCmd.Bool("peaks", false, "Print every peak position")
	top := analyzeCmd.Int("top", 5, "Number of tempo candidates to print")
	audioPath, flagArgs := splitPositional(args)
	analyzeCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Usage: beatpulse analyze <audio_file|track_id> [--peaks] [--top N]")
		os.Exit(1)
	}

	path, _, err := resolveTrack(audioPath)
	if err != nil {
		fmt.Printf("❌ Failed to resolve track: %v\n", err)
		log.Errorf("Track lookup failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\n🔧 Initializing pipeline...")
	p, err := createPipeline()
	if err != nil {
		fmt.Printf("❌ Failed to create pipeline: %v\n", err)
		log.Errorf("Pipeline initialization failed: %v", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Println("🎵 Decoding and filtering audio...")
	s, err := p.LoadFile(ctx, path)
	if err != nil {
		fmt.Printf("\n❌ Failed to load audio: %v\n", err)
		log.Errorf("Load failed: %v", err)
		os.Exit(1)
	}
	if err := s.Wait(ctx); err != nil {
		fmt.Printf("\n❌ Analysis failed: %v\n", err)
		log.Errorf("Analysis failed: %v", err)
		os.Exit(1)
	}

	a := s.Analysis()
	fmt.Println("\n✅ Analysis complete!")
	fmt.Printf("   Track:      %s\n", s.Name)
	fmt.Printf("   Duration:   %s\n", s.Duration().Round(time.Millisecond))
	fmt.Printf("   Sample rate: %d Hz\n", a.SampleRate)
	fmt.Printf("   Peaks:      %d\n", len(a.Peaks))
	fmt.Printf("   Tolerance:  %d samples\n", a.Tolerance)

	if a.HasTempo {
		fmt.Printf("\n🥁 Estimated tempo: %.0f BPM (%d votes, reference rate %d Hz)\n", a.Tempo.Tempo, a.Tempo.Count, a.ReferenceRate)
		for i, c := range a.Histogram.Top(*top) {
			fmt.Printf("   %d. %3.0f BPM  %s %d\n", i+1, c.Tempo, strings.Repeat("█", min(c.Count, 40)), c.Count)
		}
	}

	if *showPeaks {
		fmt.Println("\n📍 Peaks:")
		for i, pk := range a.Peaks {
			sec := float64(pk.Position) / float64(a.SampleRate)
			fmt.Printf("   %3d. %9d (%7.3fs)  volume %.3f\n", i+1, pk.Position, sec, pk.Volume)
		}
	}
	log.Infof("Analyzed %s: %d peaks", s.Name, len(a.Peaks))
}

func handlePlay(args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: beatpulse [global-options] play <audio_file|track_id>")
		os.Exit(1)
	}

	path, title, err := resolveTrack(args[0])
	if err != nil {
		fmt.Printf("❌ Failed to resolve track: %v\n", err)
		log.Errorf("Track lookup failed: %v", err)
		os.Exit(1)
	}
	if title == "" {
		title = path
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	player := newTerminalPlayer(os.Stdout, blockSize)
	p, err := createPipeline(
		beatpulse.WithAutoPlay(autoPlay),
		beatpulse.WithPlayer(player),
	)
	if err != nil {
		fmt.Printf("❌ Failed to create pipeline: %v\n", err)
		log.Errorf("Pipeline initialization failed: %v", err)
		os.Exit(1)
	}
	defer p.Close()

	fmt.Printf("🎵 Loading %s...\n", title)
	s, err := p.LoadFile(ctx, path)
	if err != nil {
		fmt.Printf("❌ Failed to load audio: %v\n", err)
		log.Errorf("Load failed: %v", err)
		os.Exit(1)
	}
	if err := s.Wait(ctx); err != nil {
		fmt.Printf("❌ Analysis failed: %v\n", err)
		log.Errorf("Analysis failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("▶️  Playing %s (%s), Ctrl-C to stop\n\n", title, s.Duration().Round(time.Second))
	if autoPlay {
		select {
		case <-player.Finished():
		case <-ctx.Done():
		}
	} else if err := player.Play(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Playback failed: %v", err)
	}

	fmt.Printf("\n\n⏹  %d beats signalled\n", player.Beats())
}

func handleAdd(args []string) {
	log := logger.GetLogger()

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	title := addCmd.String("title", "", "Track title (defaults to tags or file name)")
	artist := addCmd.String("artist", "", "Artist name (defaults to tags)")
	audioPath, flagArgs := splitPositional(args)
	addCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Error: audio file path required")
		fmt.Println("Usage: beatpulse add <audio_file> [--title <title>] [--artist <artist>]")
		os.Exit(1)
	}
	if _, err := os.Stat(audioPath); err != nil {
		fmt.Printf("❌ Cannot read %s: %v\n", audioPath, err)
		os.Exit(1)
	}

	lib, err := openLibrary()
	if err != nil {
		fmt.Printf("❌ Failed to open library: %v\n", err)
		log.Errorf("Library initialization failed: %v", err)
		os.Exit(1)
	}
	defer lib.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	in, err := library.Describe(ctx, audioPath, *title, *artist, &audio.FileDecoder{TempDir: tempDir})
	if err != nil {
		fmt.Printf("❌ Failed to read audio file: %v\n", err)
		log.Errorf("Describe failed: %v", err)
		os.Exit(1)
	}

	track, err := lib.Register(in)
	if err != nil {
		fmt.Printf("❌ Failed to add track: %v\n", err)
		log.Errorf("Register failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Track added to library!")
	printTrack(track)
	log.Infof("Added track ID=%s", track.ID)
}

func handleList() {
	log := logger.GetLogger()

	lib, err := openLibrary()
	if err != nil {
		fmt.Printf("❌ Failed to open library: %v\n", err)
		log.Errorf("Library initialization failed: %v", err)
		os.Exit(1)
	}
	defer lib.Close()

	tracks, err := lib.List()
	if err != nil {
		fmt.Printf("❌ Failed to list tracks: %v\n", err)
		log.Errorf("List failed: %v", err)
		os.Exit(1)
	}

	if len(tracks) == 0 {
		fmt.Println("\n📭 No tracks in library")
		return
	}

	fmt.Printf("\n📚 Found %d track(s):\n\n", len(tracks))
	for i, track := range tracks {
		fmt.Printf("%d. \"%s\"", i+1, track.Title)
		if track.Artist != "" {
			fmt.Printf(" by %s", track.Artist)
		}
		fmt.Printf(" (ID: %s)\n", track.ID)
		fmt.Printf("   File: %s\n", track.Path)
		if track.DurationMs > 0 {
			duration := track.DurationMs / 1000
			fmt.Printf("   Duration: %d:%02d", duration/60, duration%60)
			if track.SampleRate > 0 {
				fmt.Printf(" | %d Hz, %d ch", track.SampleRate, track.Channels)
			}
			fmt.Println()
		}
		fmt.Println()
	}
	log.Infof("Listed %d tracks", len(tracks))
}

func handleDelete(args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: beatpulse delete <track_id>")
		os.Exit(1)
	}

	trackID := args[0]
	if _, err := uuid.Parse(trackID); err != nil {
		fmt.Printf("❌ Invalid track ID: %v\n", err)
		os.Exit(1)
	}

	lib, err := openLibrary()
	if err != nil {
		fmt.Printf("❌ Failed to open library: %v\n", err)
		log.Errorf("Library initialization failed: %v", err)
		os.Exit(1)
	}
	defer lib.Close()

	track, err := lib.Get(trackID)
	if err != nil {
		fmt.Printf("❌ Track not found (ID: %s)\n", trackID)
		log.Warnf("Track %s not found: %v", trackID, err)
		os.Exit(1)
	}

	if err := lib.Delete(trackID); err != nil {
		fmt.Printf("❌ Failed to delete track: %v\n", err)
		log.Errorf("Delete failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\n✅ Successfully deleted track:")
	printTrack(track)
	log.Infof("Deleted track ID=%s ('%s')", track.ID, track.Title)
}

func printTrack(track library.Track) {
	fmt.Printf("   ID:     %s\n", track.ID)
	fmt.Printf("   Title:  %s\n", track.Title)
	if track.Artist != "" {
		fmt.Printf("   Artist: %s\n", track.Artist)
	}
	fmt.Printf("   File:   %s\n", track.Path)
}

// splitPositional separates a leading positional argument from the flags
// that follow it.
func splitPositional(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func printUsage() {
	fmt.Println("BeatPulse - Beat Estimation CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>            Path to SQLite track library (env: BEATPULSE_DB_PATH, default: beatpulse.sqlite3)")
	fmt.Println("  --temp <dir>           Temporary directory for audio conversion (env: BEATPULSE_TEMP_DIR)")
	fmt.Println("  --autoplay             Start playback once analysis finishes (default: true)")
	fmt.Println("  --block <frames>       Playback block size (default: 1024)")
	fmt.Println("  --track-rate-tempo     Use the track's sample rate for tempo estimation")
	fmt.Println("  --renderer <name>      biquad (default) or ffmpeg")
	fmt.Println("\nUsage:")
	fmt.Println("  beatpulse [global-options] analyze <audio_file|track_id> [--peaks] [--top N]")
	fmt.Println("  beatpulse [global-options] play <audio_file|track_id>")
	fmt.Println("  beatpulse [global-options] add <audio_file> [--title <title>] [--artist <artist>]")
	fmt.Println("  beatpulse [global-options] list")
	fmt.Println("  beatpulse [global-options] delete <track_id>")
	fmt.Println("\nExamples:")
	fmt.Println("  beatpulse analyze song.wav --peaks")
	fmt.Println("  beatpulse --db mydb.sqlite3 add song.mp3 --title \"Song\" --artist \"Artist\"")
	fmt.Println("  beatpulse --block 512 play 2f1c0e4a-8d1b-4c55-9a77-1f3e4b2c9d10")
}
