package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/downloader"
)

// defaultTrimEnd stands in for "until the end of the media" when only a
// start bound is given. The trimmer passes it straight to the transcoder,
// which stops at EOF.
const defaultTrimEnd = 999999

// JobRequest is the raw submission before validation and normalization.
type JobRequest struct {
	URL           string
	Quality       string
	Mode          string
	AudioOnly     bool
	AudioLanguage string
	OutputName    string
	TrimStart     *float64
	TrimEnd       *float64
	InsecureSSL   bool
}

// JobService validates submissions and hands them to the download manager.
type JobService interface {
	Submit(ctx context.Context, req JobRequest, onProgress domain.ProgressFunc) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

type Config struct {
	// MaxURLLength bounds accepted URLs. Zero picks the default of 4096.
	MaxURLLength int

	// DefaultQuality is used when the requested tier does not parse.
	DefaultQuality domain.QualityTier

	Logger *logrus.Logger
}

type jobService struct {
	cfg Config
	mgr downloader.Manager
}

func NewJobService(cfg Config, mgr downloader.Manager) JobService {
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = 4096
	}
	if cfg.DefaultQuality == "" {
		cfg.DefaultQuality = domain.QualityBest
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &jobService{cfg: cfg, mgr: mgr}
}

var _ JobService = (*jobService)(nil)

func (s *jobService) Submit(ctx context.Context, req JobRequest, onProgress domain.ProgressFunc) (string, error) {
	job, err := s.buildJob(req)
	if err != nil {
		return "", err
	}
	if err := s.mgr.Enqueue(ctx, job, onProgress); err != nil {
		return "", err
	}
	s.cfg.Logger.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"quality": job.Quality,
		"mode":    job.Mode,
	}).Info("job accepted")
	return job.ID, nil
}

func (s *jobService) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	return s.mgr.Cancel(ctx, jobID)
}

func (s *jobService) buildJob(req JobRequest) (domain.Job, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return domain.Job{}, errors.New("url is required")
	}
	if len(url) > s.cfg.MaxURLLength {
		return domain.Job{}, fmt.Errorf("url exceeds %d characters", s.cfg.MaxURLLength)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return domain.Job{}, errors.New("url must start with http:// or https://")
	}

	quality := s.cfg.DefaultQuality
	if req.Quality != "" {
		tier, ok := domain.ParseQualityTier(req.Quality)
		if !ok {
			s.cfg.Logger.WithField("quality", req.Quality).Warnf("unknown quality, using %s", s.cfg.DefaultQuality)
			tier = s.cfg.DefaultQuality
		}
		quality = tier
	}

	mode := domain.ModeAuto
	if req.Mode != "" {
		parsed, ok := domain.ParseMode(req.Mode)
		if !ok {
			return domain.Job{}, fmt.Errorf("unknown mode %q", req.Mode)
		}
		mode = parsed
	}

	job := domain.Job{
		ID:            uuid.NewString(),
		URL:           url,
		Quality:       quality,
		Mode:          mode,
		AudioOnly:     req.AudioOnly,
		AudioLanguage: strings.TrimSpace(req.AudioLanguage),
		OutputName:    strings.TrimSpace(req.OutputName),
		InsecureSSL:   req.InsecureSSL,
		Trim:          buildTrimRange(req.TrimStart, req.TrimEnd),
	}
	return job, nil
}

// buildTrimRange normalizes partial bounds: a lone start means "to the
// end", a lone end means "from the beginning". Degenerate ranges are kept
// and rejected later so the download itself still succeeds.
func buildTrimRange(start, end *float64) *domain.TrimRange {
	if start == nil && end == nil {
		return nil
	}
	r := &domain.TrimRange{End: defaultTrimEnd}
	if start != nil {
		r.Start = *start
	}
	if r.Start < 0 {
		r.Start = 0
	}
	if end != nil {
		r.End = *end
	}
	return r
}
