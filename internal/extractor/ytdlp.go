package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// YTDLP drives the yt-dlp binary as the extraction backend.
type YTDLP struct {
	path string
	log  *logrus.Logger
}

// NewYTDLP returns a backend bound to the given binary path. An empty path
// resolves "yt-dlp" from PATH at run time.
func NewYTDLP(path string, logger *logrus.Logger) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &YTDLP{path: path, log: logger}
}

var _ Extractor = (*YTDLP)(nil)

func (y *YTDLP) Probe(ctx context.Context, url string, opts Options) (*MediaInfo, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	args := []string{"--dump-json", "--no-download", "--no-warnings"}
	args = append(args, opts.args()...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	y.log.WithField("url", url).Debug("probing media metadata")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyBackendError(stderr.String(), err)
	}

	info, err := parseMediaInfo(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return info, nil
}

func (y *YTDLP) Fetch(ctx context.Context, url string, opts Options, progress ProgressFunc) (string, error) {
	if err := opts.validateForFetch(); err != nil {
		return "", err
	}

	args := []string{
		"--newline",
		"--progress",
		"--no-warnings",
		"-o", opts.OutputTemplate,
		"--print", "after_move:filepath",
		"-f", opts.FormatSelector,
	}
	args = append(args, opts.args()...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	y.log.WithFields(logrus.Fields{
		"url":    url,
		"format": opts.FormatSelector,
	}).Debug("starting download")

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start backend: %w", err)
	}

	var (
		finalPath   string
		destination string
		errLines    []string
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "ERROR:"):
			errLines = append(errLines, line)
		case strings.HasPrefix(line, "["):
			if m := destinationRe.FindStringSubmatch(line); m != nil {
				destination = m[1]
			}
			if m := mergerRe.FindStringSubmatch(line); m != nil {
				destination = m[1]
			}
			if ev, ok := parseProgressLine(line); ok && progress != nil {
				progress(ev)
			}
		case strings.ContainsAny(line, `/\`):
			// --print after_move:filepath emits the final path on its own
			// line once the file lands.
			finalPath = line
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if waitErr != nil {
		diag := stderr.String()
		if diag == "" && len(errLines) > 0 {
			diag = strings.Join(errLines, "\n")
		}
		return "", classifyBackendError(diag, waitErr)
	}

	if finalPath == "" {
		finalPath = destination
	}
	if finalPath == "" {
		return "", fmt.Errorf("backend reported no output path")
	}
	return finalPath, nil
}

var (
	percentRe     = regexp.MustCompile(`(\d+\.?\d*)%`)
	totalSizeRe   = regexp.MustCompile(`of\s+~?\s*([\d.]+)\s*([KMGT]?i?B)`)
	destinationRe = regexp.MustCompile(`Destination:\s+(.+)$`)
	mergerRe      = regexp.MustCompile(`Merging formats into "(.+)"`)
)

// parseProgressLine extracts a transfer snapshot from one "[download]" line.
func parseProgressLine(line string) (Progress, bool) {
	if !strings.HasPrefix(line, "[download]") {
		return Progress{}, false
	}
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}

	ev := Progress{Percent: percent}
	if sm := totalSizeRe.FindStringSubmatch(line); sm != nil {
		if total := humanSizeToBytes(sm[1], sm[2]); total > 0 {
			ev.TotalBytes = total
			ev.DownloadedBytes = int64(percent / 100 * float64(total))
		}
	}
	return ev, true
}

func humanSizeToBytes(num, unit string) int64 {
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	u := strings.ToUpper(unit)
	u = strings.TrimSuffix(u, "IB")
	u = strings.TrimSuffix(u, "B")
	multiplier := float64(1)
	switch u {
	case "K":
		multiplier = 1 << 10
	case "M":
		multiplier = 1 << 20
	case "G":
		multiplier = 1 << 30
	case "T":
		multiplier = 1 << 40
	}
	return int64(value * multiplier)
}

// classifyBackendError maps backend diagnostics onto the typed sentinel set.
// Order matters: fragment failures frequently mention HTTP status codes, so
// fragment detection runs before the status checks.
func classifyBackendError(diag string, cause error) error {
	msg := strings.TrimSpace(diag)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	lower := strings.ToLower(msg)
	summary := lastNonEmptyLine(msg)

	switch {
	case isSSLFailure(lower):
		return fmt.Errorf("%w: %s", ErrSSLVerification, summary)
	case isFileLockFailure(lower):
		return fmt.Errorf("%w: %s", ErrFileLocked, summary)
	case strings.Contains(lower, "fragment"):
		return fmt.Errorf("%w: %s", ErrFragmentCorrupted, summary)
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return fmt.Errorf("%w: %s", ErrForbidden, summary)
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found") ||
		strings.Contains(lower, "video unavailable"):
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	case strings.Contains(lower, "not available"):
		return fmt.Errorf("%w: %s", ErrFormatUnavailable, summary)
	}
	return fmt.Errorf("backend failed: %s", summary)
}

func isSSLFailure(lower string) bool {
	for _, marker := range []string{
		"certificate_verify_failed",
		"certificate verify failed",
		"certificateverifyerror",
		"[ssl:",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isFileLockFailure(lower string) bool {
	for _, marker := range []string{
		"winerror 5",
		"access is denied",
		"being used by another process",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "unknown backend failure"
}

type rawInfo struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Uploader   string      `json:"uploader"`
	WebpageURL string      `json:"webpage_url"`
	Duration   float64     `json:"duration"`
	Formats    []rawFormat `json:"formats"`
}

type rawFormat struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Protocol   string  `json:"protocol"`
	FormatNote string  `json:"format_note"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	FPS        float64 `json:"fps"`
	TBR        float64 `json:"tbr"`
	VBR        float64 `json:"vbr"`
	ABR        float64 `json:"abr"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	Language   string  `json:"language"`
	URL        string  `json:"url"`
	Filesize   float64 `json:"filesize"`
}

func parseMediaInfo(data []byte) (*MediaInfo, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	info := &MediaInfo{
		ID:         raw.ID,
		Title:      raw.Title,
		Uploader:   raw.Uploader,
		WebpageURL: raw.WebpageURL,
		Duration:   raw.Duration,
		Formats:    make([]FormatInfo, 0, len(raw.Formats)),
	}
	for _, f := range raw.Formats {
		info.Formats = append(info.Formats, FormatInfo{
			ID:         f.FormatID,
			Ext:        f.Ext,
			Protocol:   f.Protocol,
			FormatNote: f.FormatNote,
			Width:      int(f.Width),
			Height:     int(f.Height),
			FPS:        f.FPS,
			TBR:        f.TBR,
			VBR:        f.VBR,
			ABR:        f.ABR,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			Language:   f.Language,
			URL:        f.URL,
			Filesize:   int64(f.Filesize),
		})
	}
	return info, nil
}
