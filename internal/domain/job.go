package domain

import "strings"

// QualityTier identifies the resolution class requested by the caller.
type QualityTier string

const (
	QualityBest  QualityTier = "best"
	Quality4K    QualityTier = "4k"
	Quality1440p QualityTier = "1440p"
	Quality1080p QualityTier = "1080p"
	Quality720p  QualityTier = "720p"
	Quality480p  QualityTier = "480p"
	Quality360p  QualityTier = "360p"
	Quality240p  QualityTier = "240p"
	Quality144p  QualityTier = "144p"
)

// ParseQualityTier normalizes raw user input into a known tier. The second
// return reports whether the input named a recognized tier; callers decide
// what to do with unrecognized values.
func ParseQualityTier(s string) (QualityTier, bool) {
	tier := QualityTier(strings.ToLower(strings.TrimSpace(s)))
	switch tier {
	case QualityBest, Quality4K, Quality1440p, Quality1080p, Quality720p,
		Quality480p, Quality360p, Quality240p, Quality144p:
		return tier, true
	case "2160p":
		return Quality4K, true
	}
	return QualityBest, false
}

// Mode selects the acquisition strategy for a job.
type Mode string

const (
	// ModeAuto tries the dual-stream pipeline when the job is eligible and
	// falls back to the selector ladder otherwise.
	ModeAuto Mode = "auto"
	// ModeStandard skips dual-stream acquisition entirely.
	ModeStandard Mode = "standard"
)

// ParseMode normalizes raw input into a mode. The second return reports
// whether the input named a recognized mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto:
		return ModeAuto, true
	case ModeStandard:
		return ModeStandard, true
	}
	return ModeAuto, false
}

// TrimRange is an optional cut applied to the finished artifact, in seconds.
type TrimRange struct {
	Start float64
	End   float64
}

// Duration returns the clip length, which is only meaningful when the range
// is well formed (End > Start).
func (r TrimRange) Duration() float64 {
	return r.End - r.Start
}

// Job describes one download request tracked by the engine.
type Job struct {
	ID            string
	URL           string
	Quality       QualityTier
	Mode          Mode
	AudioOnly     bool
	AudioLanguage string
	OutputName    string
	Trim          *TrimRange
	InsecureSSL   bool
}

type JobStatus string

const (
	StatusStarting    JobStatus = "starting"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing"
	StatusFinished    JobStatus = "finished"
	StatusError       JobStatus = "error"
	StatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether the status ends a job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCancelled
}

// ProgressEvent is a point-in-time snapshot of a job delivered to the
// caller-supplied progress callback.
type ProgressEvent struct {
	JobID           string
	Status          JobStatus
	DownloadedBytes int64
	TotalBytes      int64
	Percent         float64
	Filename        string
	Notices         []string
	ErrorMessage    string
}

// ProgressFunc receives job progress events. Implementations must be safe
// for concurrent use; the engine may call them from several goroutines.
type ProgressFunc func(ProgressEvent)
