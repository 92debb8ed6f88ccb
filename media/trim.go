// Package media trims clips to the Shorts duration limit with ffmpeg.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/onnwee/shorts-tender/telemetry"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	//nolint:gosec // G204: binary and paths come from configuration and our own temp files
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Trimmer cuts the first MaxSeconds of a clip. It first tries a stream copy
// and falls back to a re-encode when the copy fails or produces no output.
// It satisfies publish.Transformer.
type Trimmer struct {
	FFmpeg     string
	MaxSeconds int
	run        Runner
}

// NewTrimmer returns a trimmer using the ffmpeg binary at path ("" means "ffmpeg").
func NewTrimmer(path string, maxSeconds int) *Trimmer {
	if path == "" {
		path = "ffmpeg"
	}
	if maxSeconds <= 0 {
		maxSeconds = 59
	}
	return &Trimmer{FFmpeg: path, MaxSeconds: maxSeconds, run: execRunner}
}

// Available reports whether the ffmpeg binary can be found.
func (t *Trimmer) Available() error {
	if _, err := exec.LookPath(t.FFmpeg); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

func (t *Trimmer) args(in, out string, reencode bool) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-ss", "0", "-i", in, "-t", strconv.Itoa(t.MaxSeconds)}
	if reencode {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-c", "copy")
	}
	return append(args, "-movflags", "+faststart", out)
}

// Trim writes the trimmed clip from in to out.
func (t *Trimmer) Trim(ctx context.Context, in, out string) error {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "trim"), slog.String("input", in))
	output, err := t.run(ctx, t.FFmpeg, t.args(in, out, false)...)
	if err == nil && nonEmpty(out) {
		telemetry.RecordTransform("copy")
		return nil
	}
	if ctx.Err() != nil {
		telemetry.RecordTransform("failed")
		return fmt.Errorf("trim: %w", ctx.Err())
	}
	logger.Warn("stream copy trim failed; re-encoding", slog.Any("err", err), slog.String("ffmpeg", lastLine(output)))
	_ = os.Remove(out)

	output, err = t.run(ctx, t.FFmpeg, t.args(in, out, true)...)
	if err != nil {
		telemetry.RecordTransform("failed")
		_ = os.Remove(out)
		return fmt.Errorf("ffmpeg re-encode: %w: %s", err, lastLine(output))
	}
	if !nonEmpty(out) {
		telemetry.RecordTransform("failed")
		return fmt.Errorf("ffmpeg re-encode produced no output")
	}
	telemetry.RecordTransform("reencode")
	return nil
}

func nonEmpty(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Size() > 0
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
