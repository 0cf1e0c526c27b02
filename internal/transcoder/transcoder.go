package transcoder

import "context"

// ProbeResult holds the stream facts validation and repair decide on.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

// Transcoder abstracts the external media tool used for probing, merging,
// remuxing, and trimming artifacts.
type Transcoder interface {
	// Available reports whether the tool can be invoked at all. Callers
	// must skip every other method when this is false.
	Available() bool
	// Probe inspects a finished file.
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	// Remux rewrites src into dst without re-encoding, moving the index
	// upfront for streamable playback.
	Remux(ctx context.Context, src, dst string) error
	// Merge joins a video-only and an audio-only file into dst by stream
	// copy.
	Merge(ctx context.Context, videoPath, audioPath, dst string) error
	// Trim cuts [start, start+duration) seconds of src into dst. With
	// reencode false the cut is a fast stream copy; true re-encodes for
	// hosts whose copied cuts come out broken.
	Trim(ctx context.Context, src, dst string, start, duration float64, reencode bool) error
}
