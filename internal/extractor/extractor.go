package extractor

import (
	"context"
	"errors"
)

// Typed extraction failures. The backend maps its diagnostic output onto
// these sentinels so recovery logic can branch with errors.Is instead of
// string matching.
var (
	// ErrNotFound means the target no longer exists (HTTP 404, removed or
	// private media). Not recoverable by retrying.
	ErrNotFound = errors.New("media not found")
	// ErrForbidden means the host rejected the request (HTTP 403).
	ErrForbidden = errors.New("access forbidden")
	// ErrFormatUnavailable means the requested format selector matched
	// nothing for this target.
	ErrFormatUnavailable = errors.New("requested format not available")
	// ErrSSLVerification means certificate verification failed.
	ErrSSLVerification = errors.New("certificate verification failed")
	// ErrFileLocked means a partially written file could not be replaced
	// because another process holds it open.
	ErrFileLocked = errors.New("output file locked by another process")
	// ErrFragmentCorrupted means a fragmented (HLS/DASH) transfer produced
	// broken fragments.
	ErrFragmentCorrupted = errors.New("fragment download corrupted")
)

// MediaInfo is the normalized metadata for one target URL.
type MediaInfo struct {
	ID         string
	Title      string
	Uploader   string
	WebpageURL string
	Duration   float64
	Formats    []FormatInfo
}

// FormatInfo describes one downloadable representation of the media.
type FormatInfo struct {
	ID         string
	Ext        string
	Protocol   string
	FormatNote string
	Width      int
	Height     int
	FPS        float64
	TBR        float64
	VBR        float64
	ABR        float64
	VCodec     string
	ACodec     string
	Language   string
	URL        string
	Filesize   int64
}

// HasVideo reports whether the format carries a video stream.
func (f FormatInfo) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the format carries an audio stream.
func (f FormatInfo) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// Progress is a transfer snapshot reported while a fetch is running.
type Progress struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	Filename        string
}

// ProgressFunc receives transfer snapshots. It is invoked from the goroutine
// draining the backend's output.
type ProgressFunc func(Progress)

// Extractor resolves media metadata and fetches media through an external
// extraction backend.
type Extractor interface {
	// Probe fetches metadata without downloading media.
	Probe(ctx context.Context, url string, opts Options) (*MediaInfo, error)
	// Fetch downloads media per the option bag and returns the path of the
	// produced file. Errors wrap the sentinel set above where the failure
	// class is recognized.
	Fetch(ctx context.Context, url string, opts Options, progress ProgressFunc) (string, error)
}
