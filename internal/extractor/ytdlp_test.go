package extractor

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifyBackendError(t *testing.T) {
	cause := errors.New("exit status 1")
	tests := []struct {
		name string
		diag string
		want error
	}{
		{
			"certificate failure",
			"ERROR: [youtube] abc: certificate verify failed: unable to get local issuer",
			ErrSSLVerification,
		},
		{
			"python ssl module error",
			"urlopen error [SSL: CERTIFICATE_VERIFY_FAILED]",
			ErrSSLVerification,
		},
		{
			"windows lock",
			"ERROR: unable to rename file: [WinError 5] Access is denied",
			ErrFileLocked,
		},
		{
			"file held open",
			"The process cannot access the file because it is being used by another process",
			ErrFileLocked,
		},
		{
			"fragment wins over embedded status code",
			"ERROR: fragment 31 not found, unable to continue (HTTP Error 403)",
			ErrFragmentCorrupted,
		},
		{
			"forbidden",
			"ERROR: unable to download video data: HTTP Error 403: Forbidden",
			ErrForbidden,
		},
		{
			"not found",
			"ERROR: [youtube] abc: HTTP Error 404: Not Found",
			ErrNotFound,
		},
		{
			"gone private",
			"ERROR: [youtube] abc: Video unavailable",
			ErrNotFound,
		},
		{
			"format miss",
			"ERROR: [youtube] abc: Requested format is not available",
			ErrFormatUnavailable,
		},
	}
	for _, test := range tests {
		got := classifyBackendError(test.diag, cause)
		if !errors.Is(got, test.want) {
			t.Errorf("%s: classifyBackendError(%q) = %v, want %v", test.name, test.diag, got, test.want)
		}
	}
}

func TestClassifyBackendError_Generic(t *testing.T) {
	got := classifyBackendError("ERROR: something odd happened", errors.New("exit status 1"))
	for _, sentinel := range []error{
		ErrNotFound, ErrForbidden, ErrFormatUnavailable,
		ErrSSLVerification, ErrFileLocked, ErrFragmentCorrupted,
	} {
		if errors.Is(got, sentinel) {
			t.Fatalf("generic diagnostic classified as %v", sentinel)
		}
	}
}

func TestClassifyBackendError_EmptyDiagUsesCause(t *testing.T) {
	got := classifyBackendError("", errors.New("signal: killed"))
	if got == nil {
		t.Fatal("expected an error")
	}
	if want := "signal: killed"; !strings.Contains(got.Error(), want) {
		t.Fatalf("error %q should mention %q", got.Error(), want)
	}
}

func TestClassifyBackendError_SummarizesLastLine(t *testing.T) {
	diag := "WARNING: something minor\nERROR: unable to download video data: HTTP Error 403: Forbidden"
	got := classifyBackendError(diag, errors.New("exit status 1"))
	if !strings.Contains(got.Error(), "HTTP Error 403") {
		t.Fatalf("error %q should carry the final diagnostic line", got.Error())
	}
	if strings.Contains(got.Error(), "WARNING") {
		t.Fatalf("error %q should not carry earlier lines", got.Error())
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantOK      bool
		wantPercent float64
		wantTotal   int64
	}{
		{
			"percent with estimated total",
			"[download]  42.7% of ~ 120.00MiB at 2.50MiB/s ETA 00:30",
			true, 42.7, int64(120 * 1 << 20),
		},
		{
			"percent with exact total",
			"[download] 100% of 5.00KiB in 00:00",
			true, 100, 5 * 1 << 10,
		},
		{
			"percent without size",
			"[download]  12.0%",
			true, 12, 0,
		},
		{
			"gigabyte total",
			"[download]  50.0% of 2.00GiB at 10.00MiB/s",
			true, 50, 2 * 1 << 30,
		},
		{"destination line", "[download] Destination: downloads/clip.mp4", false, 0, 0},
		{"non download stage", "[ffmpeg] Merging formats", false, 0, 0},
		{"plain text", "just noise", false, 0, 0},
	}
	for _, test := range tests {
		got, ok := parseProgressLine(test.line)
		if ok != test.wantOK {
			t.Errorf("%s: ok = %v, want %v", test.name, ok, test.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if got.Percent != test.wantPercent {
			t.Errorf("%s: percent = %v, want %v", test.name, got.Percent, test.wantPercent)
		}
		if got.TotalBytes != test.wantTotal {
			t.Errorf("%s: total = %d, want %d", test.name, got.TotalBytes, test.wantTotal)
		}
	}
}

func TestParseProgressLine_DerivesDownloadedBytes(t *testing.T) {
	got, ok := parseProgressLine("[download]  50.0% of 100.00MiB at 1.00MiB/s")
	if !ok {
		t.Fatal("line should parse")
	}
	want := int64(50 * 1 << 20)
	if got.DownloadedBytes != want {
		t.Fatalf("downloaded = %d, want %d", got.DownloadedBytes, want)
	}
}

func TestHumanSizeToBytes(t *testing.T) {
	tests := []struct {
		num  string
		unit string
		want int64
	}{
		{"512", "B", 512},
		{"1.5", "KiB", 1536},
		{"2", "MiB", 2 * 1 << 20},
		{"1", "GiB", 1 << 30},
		{"1", "TiB", 1 << 40},
		{"3", "MB", 3 * 1 << 20},
		{"bogus", "MiB", 0},
	}
	for _, test := range tests {
		if got := humanSizeToBytes(test.num, test.unit); got != test.want {
			t.Errorf("humanSizeToBytes(%q, %q) = %d, want %d", test.num, test.unit, got, test.want)
		}
	}
}

func TestParseMediaInfo(t *testing.T) {
	data := []byte(`{
		"id": "abc123",
		"title": "Test Clip",
		"uploader": "someone",
		"webpage_url": "https://example.com/watch?v=abc123",
		"duration": 371.5,
		"formats": [
			{"format_id": "140", "ext": "m4a", "protocol": "https", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5, "language": "en", "url": "https://cdn/a"},
			{"format_id": "137", "ext": "mp4", "protocol": "https", "vcodec": "avc1", "acodec": "none", "width": 1920, "height": 1080, "fps": 30, "tbr": 4400.2, "url": "https://cdn/v"},
			{"format_id": "22", "ext": "mp4", "protocol": "https", "vcodec": "avc1", "acodec": "mp4a.40.2", "height": 720, "url": "https://cdn/m"}
		]
	}`)

	info, err := parseMediaInfo(data)
	if err != nil {
		t.Fatalf("parseMediaInfo() error = %v", err)
	}
	if info.ID != "abc123" || info.Title != "Test Clip" {
		t.Fatalf("identity = %q/%q", info.ID, info.Title)
	}
	if info.Duration != 371.5 {
		t.Fatalf("duration = %v, want 371.5", info.Duration)
	}
	if len(info.Formats) != 3 {
		t.Fatalf("formats = %d, want 3", len(info.Formats))
	}

	audio := info.Formats[0]
	if audio.HasVideo() || !audio.HasAudio() {
		t.Fatalf("format 140 streams = video:%v audio:%v", audio.HasVideo(), audio.HasAudio())
	}
	if audio.Language != "en" {
		t.Fatalf("format 140 language = %q", audio.Language)
	}

	video := info.Formats[1]
	if !video.HasVideo() || video.HasAudio() {
		t.Fatalf("format 137 streams = video:%v audio:%v", video.HasVideo(), video.HasAudio())
	}
	if video.Width != 1920 || video.Height != 1080 {
		t.Fatalf("format 137 size = %dx%d", video.Width, video.Height)
	}

	muxed := info.Formats[2]
	if !muxed.HasVideo() || !muxed.HasAudio() {
		t.Fatalf("format 22 streams = video:%v audio:%v", muxed.HasVideo(), muxed.HasAudio())
	}
}

func TestParseMediaInfo_Garbage(t *testing.T) {
	if _, err := parseMediaInfo([]byte("not json")); err == nil {
		t.Fatal("expected a parse error")
	}
}
