package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

var (
	soxOnce      sync.Once
	soxAvailable bool
)

// CheckSox reports whether sox is in PATH. The lookup runs once.
func CheckSox() bool {
	soxOnce.Do(func() {
		_, err := exec.LookPath("sox")
		soxAvailable = err == nil
	})
	return soxAvailable
}

// Preprocess converts audio to 16kHz mono WAV with normalized volume using
// sox, so every provider in a benchmark receives identical input.
// If sox is unavailable the audio is returned unchanged.
func Preprocess(ctx context.Context, audio Audio) (Audio, error) {
	if !CheckSox() {
		return audio, nil
	}

	dir, err := os.MkdirTemp("", "stt-bench-preprocess-")
	if err != nil {
		return audio, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in."+audio.Ext())
	outPath := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(inPath, audio.Data, 0o600); err != nil {
		return audio, fmt.Errorf("write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sox",
		inPath, outPath,
		"rate", "16000",
		"channels", "1",
		"norm",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return audio, fmt.Errorf("sox preprocess: %w: %s", err, out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return audio, fmt.Errorf("read output: %w", err)
	}

	base := audio.name()
	return Audio{
		Data:        data,
		Filename:    base[:len(base)-len(filepath.Ext(base))] + ".wav",
		ContentType: "audio/wav",
	}, nil
}
