package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/transcoder"
)

func newTestProcessor(tc *stubTranscoder) *postProcessor {
	pp := newPostProcessor(tc, testLog())
	pp.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return pp
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFinalize_NoTranscoderIsANoOp(t *testing.T) {
	pp := newTestProcessor(&stubTranscoder{available: false})
	trim := &domain.TrimRange{Start: 0, End: 5}

	path, notices := pp.finalize(context.Background(), "/nowhere/clip.mp4", trim)
	if path != "/nowhere/clip.mp4" || notices != nil {
		t.Fatalf("finalize() = %q, %v; want untouched path and no notices", path, notices)
	}
}

func TestValidate_HealthyFilePassesThrough(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 42, Width: 1280, Height: 720, HasAudio: true}}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "data")

	got, notices := pp.finalize(context.Background(), path, nil)
	if got != path {
		t.Fatalf("path = %q, want %q", got, path)
	}
	if len(notices) != 0 {
		t.Fatalf("notices = %v, want none", notices)
	}
	if tc.remuxCalls != 0 {
		t.Fatal("healthy file must not be remuxed")
	}
}

func TestValidate_MissingFileSkipsProbe(t *testing.T) {
	tc := &stubTranscoder{available: true}
	pp := newTestProcessor(tc)

	path := filepath.Join(t.TempDir(), "gone.mp4")
	got, notices := pp.finalize(context.Background(), path, nil)
	if got != path || notices != nil {
		t.Fatalf("finalize() = %q, %v", got, notices)
	}
	if tc.probeCalls != 0 {
		t.Fatal("probe must not run on a missing file")
	}
}

func TestValidate_ProbeErrorSkipsValidation(t *testing.T) {
	tc := &stubTranscoder{available: true, probeErr: errors.New("ffprobe: exit status 1")}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "data")

	got, notices := pp.finalize(context.Background(), path, nil)
	if got != path || notices != nil {
		t.Fatalf("finalize() = %q, %v; probe failure must keep the file as is", got, notices)
	}
}

func TestValidate_MissingAudioNoticeOnFinalArtifact(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 42, Width: 1280, Height: 720, HasAudio: false}}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "data")

	_, notices := pp.finalize(context.Background(), path, nil)
	if len(notices) != 1 || notices[0] != "downloaded file has no audio stream" {
		t.Fatalf("notices = %v", notices)
	}
}

func TestValidate_MissingAudioSilentOnIntermediateArtifact(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 42, Width: 1280, Height: 720, HasAudio: false}}
	pp := newTestProcessor(tc)

	for _, name := range []string{"video.mp4", "clip.f251-22.webm"} {
		path := writeArtifact(t, t.TempDir(), name, "data")
		_, notices := pp.finalize(context.Background(), path, nil)
		if len(notices) != 0 {
			t.Errorf("%s: notices = %v, want none for a mid-pipeline file", name, notices)
		}
	}
}

func TestValidate_BrokenContainerIsRemuxedAndSwapped(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 0, Width: 0, HasAudio: true}}
	pp := newTestProcessor(tc)
	dir := t.TempDir()
	path := writeArtifact(t, dir, "clip.mp4", "broken")

	got, _ := pp.finalize(context.Background(), path, nil)
	if got != path {
		t.Fatalf("repaired file must take over the original name, got %q", got)
	}
	if tc.remuxCalls != 1 {
		t.Fatalf("remux calls = %d, want 1", tc.remuxCalls)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "remuxed" {
		t.Fatalf("final content = %q, want the repaired bytes", data)
	}

	backup, err := os.ReadFile(path + ".orig")
	if err != nil {
		t.Fatalf("broken original was not preserved: %v", err)
	}
	if string(backup) != "broken" {
		t.Fatalf("backup content = %q", backup)
	}
}

func TestValidate_RemuxFailureKeepsOriginal(t *testing.T) {
	tc := &stubTranscoder{
		available:   true,
		probeResult: &transcoder.ProbeResult{Duration: 0, Width: 0, HasAudio: true},
		remuxErr:    errors.New("exit status 1"),
	}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "broken")

	got, _ := pp.finalize(context.Background(), path, nil)
	if got != path {
		t.Fatalf("path = %q, want the original kept", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "broken" {
		t.Fatalf("content = %q, original must be untouched", data)
	}
}

func TestApplyTrim_StreamCopyHappyPath(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 60, Width: 1280, Height: 720, HasAudio: true}}
	pp := newTestProcessor(tc)
	dir := t.TempDir()
	path := writeArtifact(t, dir, "clip.mp4", "full")

	got, notices := pp.finalize(context.Background(), path, &domain.TrimRange{Start: 5, End: 15})
	if got != path {
		t.Fatalf("trimmed file must take over the original name, got %q", got)
	}
	if len(notices) != 0 {
		t.Fatalf("notices = %v", notices)
	}
	if len(tc.trims) != 1 || tc.trims[0] {
		t.Fatalf("trim calls = %v, want one stream-copy pass", tc.trims)
	}
	if tc.trimStart != 5 || tc.trimDur != 10 {
		t.Fatalf("trim window = (%v, %v), want (5, 10)", tc.trimStart, tc.trimDur)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "trimmed" {
		t.Fatalf("content = %q", data)
	}
	if fileExists(filepath.Join(dir, "clip_trimmed.mp4")) {
		t.Fatal("working file must be renamed away")
	}
}

func TestApplyTrim_NegativeStartIsClamped(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 60, Width: 1280, Height: 720, HasAudio: true}}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "full")

	pp.finalize(context.Background(), path, &domain.TrimRange{Start: -3, End: 10})
	if tc.trimStart != 0 || tc.trimDur != 10 {
		t.Fatalf("trim window = (%v, %v), want (0, 10)", tc.trimStart, tc.trimDur)
	}
}

func TestApplyTrim_DegenerateRangeIsRejectedNotFatal(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 60, Width: 1280, Height: 720, HasAudio: true}}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "full")

	got, notices := pp.finalize(context.Background(), path, &domain.TrimRange{Start: 20, End: 5})
	if got != path {
		t.Fatalf("path = %q", got)
	}
	if len(notices) != 1 || notices[0] != "invalid trim range (end before start), trim skipped" {
		t.Fatalf("notices = %v", notices)
	}
	if len(tc.trims) != 0 {
		t.Fatal("degenerate range must never reach the transcoder")
	}
}

func TestApplyTrim_FallsBackToReencode(t *testing.T) {
	tc := &stubTranscoder{
		available:   true,
		probeResult: &transcoder.ProbeResult{Duration: 60, Width: 1280, Height: 720, HasAudio: true},
		trimCopyErr: errors.New("exit status 1"),
	}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "full")

	got, notices := pp.finalize(context.Background(), path, &domain.TrimRange{Start: 0, End: 10})
	if got != path || len(notices) != 0 {
		t.Fatalf("finalize() = %q, %v", got, notices)
	}
	want := []bool{false, true}
	if len(tc.trims) != 2 || tc.trims[0] != want[0] || tc.trims[1] != want[1] {
		t.Fatalf("trim calls = %v, want copy then re-encode", tc.trims)
	}
}

func TestApplyTrim_BothPassesFailKeepsFullFile(t *testing.T) {
	tc := &stubTranscoder{
		available:   true,
		probeResult: &transcoder.ProbeResult{Duration: 60, Width: 1280, Height: 720, HasAudio: true},
		trimCopyErr: errors.New("copy failed"),
		trimEncErr:  errors.New("encode failed"),
	}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "clip.mp4", "full")

	got, notices := pp.finalize(context.Background(), path, &domain.TrimRange{Start: 0, End: 10})
	if got != path {
		t.Fatalf("path = %q", got)
	}
	if len(notices) != 1 || notices[0] != "trim failed, keeping full-length file" {
		t.Fatalf("notices = %v", notices)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "full" {
		t.Fatalf("content = %q, full-length file must survive", data)
	}
}

func TestApplyTrim_SkippedForIntermediateArtifacts(t *testing.T) {
	tc := &stubTranscoder{available: true, probeResult: &transcoder.ProbeResult{Duration: 60, Width: 1280, Height: 720, HasAudio: true}}
	pp := newTestProcessor(tc)
	path := writeArtifact(t, t.TempDir(), "video.mp4", "leg")

	pp.finalize(context.Background(), path, &domain.TrimRange{Start: 0, End: 10})
	if len(tc.trims) != 0 {
		t.Fatal("mid-pipeline files must not be trimmed")
	}
}

func TestIsIntermediateArtifact(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/tmp/video.mp4", true},
		{"/tmp/audio.m4a", true},
		{"/tmp/VIDEO.MP4", true},
		{"/tmp/clip.f251-22.webm", true},
		{"/tmp/clip.f140-5.m4a", true},
		{"/tmp/show.fdash-video_eng.mp4", true},
		{"/tmp/show.dash_sep-3.mp4", true},
		{"/tmp/clip.webm.part", true},
		{"/tmp/My Clip.mp4", false},
		{"/tmp/final.mp4", false},
		{"/tmp/videogames.mp4", false},
	}
	for _, tt := range tests {
		if got := isIntermediateArtifact(tt.path); got != tt.want {
			t.Errorf("isIntermediateArtifact(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
