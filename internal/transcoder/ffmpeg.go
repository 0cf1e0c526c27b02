package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation deadlines. Stream copies are IO bound and fast; the re-encode
// path can legitimately run for a long time on large inputs.
const (
	probeTimeout      = 30 * time.Second
	remuxTimeout      = 5 * time.Minute
	mergeTimeout      = 5 * time.Minute
	trimCopyTimeout   = 10 * time.Minute
	trimEncodeTimeout = 30 * time.Minute
)

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	path      string
	probePath string
	available bool
	log       *logrus.Logger
}

// NewFFmpeg resolves the binaries once at construction; availability does
// not change for the life of the process.
func NewFFmpeg(ffmpegPath, ffprobePath string, logger *logrus.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = logrus.New()
	}

	f := &FFmpeg{path: ffmpegPath, probePath: ffprobePath, log: logger}
	if _, err := exec.LookPath(ffmpegPath); err == nil {
		f.available = true
	}
	return f
}

var _ Transcoder = (*FFmpeg)(nil)

func (f *FFmpeg) Available() bool {
	return f.available
}

// Location returns the ffmpeg binary path for callers that pass it on to
// other tools.
func (f *FFmpeg) Location() string {
	return f.path
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.probePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeOutput(output)
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if raw.Format.Duration != "" {
		if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
			result.Duration = d
		}
	}
	for _, s := range raw.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			if result.Width == 0 {
				result.Width = s.Width
				result.Height = s.Height
			}
		case "audio":
			result.HasAudio = true
		}
	}
	return result, nil
}

func (f *FFmpeg) Remux(ctx context.Context, src, dst string) error {
	args := []string{
		"-y",
		"-i", src,
		"-c", "copy",
		"-movflags", "+faststart",
		dst,
	}
	return f.run(ctx, remuxTimeout, args)
}

func (f *FFmpeg) Merge(ctx context.Context, videoPath, audioPath, dst string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "mp4",
		dst,
		"-y",
	}
	return f.run(ctx, mergeTimeout, args)
}

func (f *FFmpeg) Trim(ctx context.Context, src, dst string, start, duration float64, reencode bool) error {
	if reencode {
		return f.run(ctx, trimEncodeTimeout, trimArgs(src, dst, start, duration, true))
	}
	return f.run(ctx, trimCopyTimeout, trimArgs(src, dst, start, duration, false))
}

// trimArgs builds the cut command. The copy variant zeroes negative
// timestamps so players do not seek past the cut; the encode variant trades
// speed for frame-exact output.
func trimArgs(src, dst string, start, duration float64, reencode bool) []string {
	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-i", src,
		"-t", formatSeconds(duration),
	}
	if reencode {
		args = append(args,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-preset", "fast",
			"-movflags", "+faststart",
		)
	} else {
		args = append(args,
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
		)
	}
	return append(args, dst)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (f *FFmpeg) run(ctx context.Context, timeout time.Duration, args []string) error {
	if !f.available {
		return fmt.Errorf("ffmpeg is not available")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log.WithField("args", strings.Join(args, " ")).Debug("running ffmpeg")
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", timeout)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, lastStderrLine(stderr.String()))
	}
	return nil
}

func lastStderrLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no diagnostic output"
}
