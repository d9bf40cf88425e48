// Package ffmpeg shells out to the ffmpeg and ffprobe binaries for the
// media work the engines cannot do natively: MP3 audio extraction,
// H.264/AAC transcodes, lossless concatenation, and stream probing.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nevindra/clonechat"
)

// ErrNotInstalled marks a transcoder binary missing from PATH. The CLI
// maps it to its own exit code.
var ErrNotInstalled = errors.New("ffmpeg not found in PATH")

const (
	defaultBinary      = "ffmpeg"
	defaultProbeBinary = "ffprobe"
	defaultTimeLimit   = 99 * time.Minute
	maxStderrTail      = 8 * 1024
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets a structured logger for the runner. If not set, no
// logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithBinaries overrides the ffmpeg and ffprobe executables. Empty
// values keep the defaults.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(r *Runner) {
		if ffmpeg != "" {
			r.binary = ffmpeg
		}
		if ffprobe != "" {
			r.probeBinary = ffprobe
		}
	}
}

// WithTimeLimit bounds each invocation's wall clock. A run past the
// limit is killed and reported as transient. Zero disables the limit.
func WithTimeLimit(d time.Duration) Option {
	return func(r *Runner) { r.limit = d }
}

// Runner invokes the external transcoder binaries.
type Runner struct {
	binary      string
	probeBinary string
	limit       time.Duration
	logger      *slog.Logger
}

// compile-time check
var _ clonechat.AudioExtractor = (*Runner)(nil)

// New creates a Runner with a 99 minute wall-clock limit per run.
func New(opts ...Option) *Runner {
	r := &Runner{
		binary:      defaultBinary,
		probeBinary: defaultProbeBinary,
		limit:       defaultTimeLimit,
		logger:      nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Validate probes `ffmpeg -version` and fails with ErrNotInstalled
// when the binary is absent. Workflows that transcode call this before
// touching the task store.
func (r *Runner) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, "-version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return fmt.Errorf("%s: %w", r.binary, ErrNotInstalled)
		}
		return fmt.Errorf("ffmpeg: version probe: %w", err)
	}
	if line, _, ok := strings.Cut(out.String(), "\n"); ok {
		r.logger.Debug("ffmpeg: validated", "version", line)
	}
	return nil
}

// ExtractAudio writes the audio track of src to dst as 192 kbit MP3.
func (r *Runner) ExtractAudio(ctx context.Context, src, dst string) error {
	_, err := r.run(ctx, r.binary, extractAudioArgs(src, dst))
	return err
}

// Reencode transcodes src into an H.264/AAC MP4 at dst. videoKbit > 0
// caps the video bitrate so the output stays under the configured size
// limit.
func (r *Runner) Reencode(ctx context.Context, src, dst string, videoKbit int) error {
	_, err := r.run(ctx, r.binary, reencodeArgs(src, dst, videoKbit))
	return err
}

// Concat merges the files named in listPath into dst without
// re-encoding. listPath follows the concat demuxer format, one
// `file '<path>'` line per input.
func (r *Runner) Concat(ctx context.Context, listPath, dst string) error {
	_, err := r.run(ctx, r.binary, concatArgs(listPath, dst))
	return err
}

func extractAudioArgs(src, dst string) []string {
	return []string{
		"-y",
		"-i", src,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "192k",
		dst,
	}
}

func reencodeArgs(src, dst string, videoKbit int) []string {
	args := []string{
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-preset", "fast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
	}
	if videoKbit > 0 {
		rate := fmt.Sprintf("%dk", videoKbit)
		args = append(args,
			"-b:v", rate,
			"-maxrate", rate,
			"-bufsize", fmt.Sprintf("%dk", videoKbit*2),
		)
	}
	return append(args, dst)
}

func concatArgs(listPath, dst string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		dst,
	}
}

// run executes one invocation under the wall-clock limit and returns
// captured stdout.
func (r *Runner) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	start := time.Now()
	runCtx := ctx
	if r.limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.limit)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, bin, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// ffmpeg logs its banner and progress first; the failure reason
	// lands at the end, so keep the tail.
	stderr := &tailWriter{max: maxStderrTail}
	cmd.Stderr = stderr

	r.logger.Debug("ffmpeg: run", "binary", bin, "args", strings.Join(args, " "))

	err := cmd.Run()
	if err == nil {
		r.logger.Debug("ffmpeg: done", "binary", bin, "duration", time.Since(start))
		return stdout.Bytes(), nil
	}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		r.logger.Warn("ffmpeg: killed on time limit", "binary", bin, "limit", r.limit)
		return nil, &clonechat.ErrExternalTool{Tool: bin, ExitCode: -1, Killed: true}
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", bin, ErrNotInstalled)
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	r.logger.Error("ffmpeg: failed", "binary", bin, "exit_code", exitCode, "duration", time.Since(start))
	return nil, &clonechat.ErrExternalTool{
		Tool:     bin,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr.String()),
	}
}

// tailWriter keeps the last max bytes written.
type tailWriter struct {
	buf []byte
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string { return string(w.buf) }

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
