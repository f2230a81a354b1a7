//go:build js && wasm
// +build js,wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorNoSession
	ErrorAnalysisFailed
)

var pipeline *beatpulse.Pipeline

// Loads a track and starts the analysis in the background.
// Args: left, right (Float32Array | Float64Array | Array, right may be null), sampleRate
// Returns: {error: number, data: {session, generation} | string}
func analyzeBeats(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: left, right, sampleRate")
	}

	if args[2].Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	sampleRate := args[2].Int()
	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}

	left, err := readChannel(args[0], "left")
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, err.Error())
	}
	channels := [][]float64{left}

	if !args[1].IsNull() && !args[1].IsUndefined() {
		right, err := readChannel(args[1], "right")
		if err != nil {
			return makeErrorResponse(ErrorInvalidArgs, err.Error())
		}
		if len(right) != len(left) {
			return makeErrorResponse(ErrorInvalidArgs, "left and right must have the same length")
		}
		channels = append(channels, right)
	}

	name := "browser"
	if len(args) > 3 && args[3].Type() == js.TypeString {
		name = args[3].String()
	}

	session, err := pipeline.LoadBuffer(name, &audio.Buffer{Channels: channels, SampleRate: sampleRate})
	if err != nil {
		return makeErrorResponse(ErrorProcessing, fmt.Sprintf("Failed to load audio: %v", err))
	}

	data := js.Global().Get("Object").New()
	data.Set("session", session.ID)
	data.Set("generation", float64(session.Generation))
	return makeResponse(data)
}

func readChannel(v js.Value, label string) ([]float64, error) {
	if v.Type() != js.TypeObject {
		return nil, fmt.Errorf("%s must be an Array or typed array", label)
	}

	length := v.Length()
	samples := make([]float64, length)
	for i := 0; i < length; i++ {
		val := v.Index(i)
		if val.Type() != js.TypeNumber {
			return nil, fmt.Errorf("%s element %d is not a number", label, i)
		}
		samples[i] = val.Float()
	}
	return samples, nil
}

// Answers whether a playback position (in samples) is on a beat.
// Returns: {error: number, data: boolean | string}
func isBeatNear(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 1 argument: position")
	}
	return makeResponse(pipeline.IsBeatNear(args[0].Int()))
}

// Reports the state of the current session.
// Returns: {error: number, data: {ready, peaks, tempo, tolerance} | string}
func beatAnalysis(this js.Value, args []js.Value) interface{} {
	session := pipeline.Current()
	if session == nil {
		return makeErrorResponse(ErrorNoSession, beatpulse.ErrNoSession.Error())
	}
	if err := session.Err(); err != nil {
		return makeErrorResponse(ErrorAnalysisFailed, err.Error())
	}

	data := js.Global().Get("Object").New()
	data.Set("session", session.ID)
	data.Set("ready", session.Ready())

	a := session.Analysis()
	if a == nil {
		return makeResponse(data)
	}

	list := peaks.Positions(a.Peaks)
	positions := js.Global().Get("Array").New(len(list))
	for i, pos := range list {
		positions.SetIndex(i, pos)
	}
	data.Set("peaks", positions)
	data.Set("tolerance", a.Tolerance)
	if a.HasTempo {
		data.Set("tempo", a.Tempo.Tempo)
	}
	return makeResponse(data)
}

func makeResponse(data interface{}) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	if !console.IsUndefined() {
		console.Call("log", "🔧 BeatPulse WASM module initializing...")
	}

	var err error
	pipeline, err = beatpulse.NewPipeline(beatpulse.WithWorkers(1))
	if err != nil {
		if !console.IsUndefined() {
			console.Call("error", fmt.Sprintf("❌ Failed to create pipeline: %v", err))
		}
		return
	}

	done := make(chan struct{})

	js.Global().Set("analyzeBeats", js.FuncOf(analyzeBeats))
	js.Global().Set("isBeatNear", js.FuncOf(isBeatNear))
	js.Global().Set("beatAnalysis", js.FuncOf(beatAnalysis))

	if !console.IsUndefined() {
		console.Call("log", "📝 analyzeBeats, isBeatNear and beatAnalysis registered")
	}

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
	} else if !console.IsUndefined() {
		console.Call("error", "❌ window object is undefined!")
	}

	if !console.IsUndefined() {
		console.Call("log", "✅ BeatPulse WASM module loaded and ready")
	}

	<-done
}
