package downloader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/transcoder"
)

// postProcessor validates, repairs, and trims finished artifacts. Nothing
// here fails a job that already produced a file: every problem degrades to
// keeping what exists plus a notice for the caller.
type postProcessor struct {
	tc    transcoder.Transcoder
	log   *logrus.Entry
	sleep func(ctx context.Context, d time.Duration) error
}

func newPostProcessor(tc transcoder.Transcoder, log *logrus.Entry) *postProcessor {
	return &postProcessor{tc: tc, log: log, sleep: sleepCtx}
}

// finalize runs the full pass: container validation with remux repair,
// then the optional trim. Without a transcoder both steps are skipped.
func (p *postProcessor) finalize(ctx context.Context, path string, trim *domain.TrimRange) (string, []string) {
	if p.tc == nil || !p.tc.Available() {
		return path, nil
	}

	path, notices := p.validate(ctx, path)

	if trim != nil && !isIntermediateArtifact(path) {
		trimmedPath, trimNotices := p.applyTrim(ctx, path, *trim)
		path = trimmedPath
		notices = append(notices, trimNotices...)
	}
	return path, notices
}

// validate probes the artifact and remuxes it into a fresh MP4 container
// when the header is unreadable (zero duration or width). The repaired file
// atomically takes over the original name; the broken original survives
// with an .orig suffix.
func (p *postProcessor) validate(ctx context.Context, path string) (string, []string) {
	if _, err := os.Stat(path); err != nil {
		return path, nil
	}

	result, err := p.tc.Probe(ctx, path)
	if err != nil {
		p.log.WithError(err).Warn("could not probe artifact, skipping validation")
		return path, nil
	}

	var notices []string
	if !result.HasAudio && !isIntermediateArtifact(path) {
		p.log.WithField("file", filepath.Base(path)).Warn("artifact has no audio stream")
		notices = append(notices, "downloaded file has no audio stream")
	}

	if result.Duration > 0 && result.Width > 0 {
		return path, notices
	}

	p.log.WithFields(logrus.Fields{
		"duration": result.Duration,
		"width":    result.Width,
	}).Warn("container metadata is broken, remuxing")

	target := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
	if target == path || fileExists(target) {
		target = strings.TrimSuffix(path, filepath.Ext(path)) + "_fixed.mp4"
	}

	if err := p.tc.Remux(ctx, path, target); err != nil {
		p.log.WithError(err).Warn("container repair failed, keeping original")
		return path, notices
	}
	if !fileExists(target) {
		return path, notices
	}

	backup := path + ".orig"
	if _, err := os.Stat(backup); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(path, backup); err != nil {
			p.log.WithError(err).Warn("could not back up broken original")
			return target, notices
		}
	}
	if err := os.Rename(target, path); err != nil {
		p.log.WithError(err).Warn("could not swap repaired file into place")
		return target, notices
	}
	return path, notices
}

// applyTrim cuts the artifact to the requested range. A degenerate range is
// rejected without failing the job; a failed cut keeps the full-length
// file. On success the trimmed file takes over the original name, with a
// bounded rename retry because the transcoder may briefly hold the handle.
func (p *postProcessor) applyTrim(ctx context.Context, path string, trim domain.TrimRange) (string, []string) {
	start := trim.Start
	if start < 0 {
		start = 0
	}
	if trim.End <= start {
		p.log.Warn("trim range ends before it starts, skipping trim")
		return path, []string{"invalid trim range (end before start), trim skipped"}
	}
	duration := trim.End - start

	ext := filepath.Ext(path)
	trimmed := strings.TrimSuffix(path, ext) + "_trimmed" + ext

	p.log.WithFields(logrus.Fields{
		"start":    start,
		"duration": duration,
	}).Info("trimming artifact")

	if err := p.tc.Trim(ctx, path, trimmed, start, duration, false); err != nil {
		p.log.WithError(err).Warn("stream-copy trim failed, re-encoding")
		if err := p.tc.Trim(ctx, path, trimmed, start, duration, true); err != nil {
			p.log.WithError(err).Warn("trim failed, keeping full-length file")
			return path, []string{"trim failed, keeping full-length file"}
		}
	}
	if !fileExists(trimmed) {
		return path, []string{"trim failed, keeping full-length file"}
	}

	// Give the tool a moment to release handles before touching the files.
	_ = p.sleep(ctx, 500*time.Millisecond)
	if err := os.Remove(path); err != nil {
		p.log.WithError(err).Warn("could not remove original file")
	}

	for attempt := 0; attempt < 3; attempt++ {
		_ = p.sleep(ctx, 300*time.Millisecond)
		err := os.Rename(trimmed, path)
		if err == nil {
			return path, nil
		}
		p.log.WithError(err).Warnf("rename attempt %d/3 failed", attempt+1)
		_ = p.sleep(ctx, time.Second)
	}
	return trimmed, []string{"trimmed file kept under its working name"}
}

// intermediateArtifactMarkers flag files produced mid-pipeline: the staged
// dual-stream legs and the backend's per-format partial outputs. They are
// exempt from the missing-audio warning and from trimming.
var intermediateArtifactMarkers = []string{
	".fdash-", ".dash-", ".dash_sep-", ".f251-", ".f140-", ".m4a.", ".webm.",
}

func isIntermediateArtifact(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(name, "video.") || strings.HasPrefix(name, "audio.") {
		return true
	}
	for _, marker := range intermediateArtifactMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
