package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/extractor"
	"github.com/diorhc/YTDL/internal/platform"
	"github.com/diorhc/YTDL/internal/quality"
	"github.com/diorhc/YTDL/internal/storage"
	"github.com/diorhc/YTDL/internal/transcoder"
)

// Manager coordinates download jobs, progress fan-out, and the optional
// archive upload lifecycle.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
	Enqueue(ctx context.Context, job domain.Job, onProgress domain.ProgressFunc) error
	Cancel(ctx context.Context, jobID string) error
	Active() []string
}

type Config struct {
	DownloadRoot     string
	MaxConcurrent    int
	ProgressInterval time.Duration

	SocketTimeout time.Duration
	Retries       int
	CookiesFile   string

	// FFmpegLocation is forwarded to the backend so both tools agree on
	// which transcoder build handles merging.
	FFmpegLocation string

	// AllowInsecureRetry permits the one-time certificate bypass retry.
	AllowInsecureRetry bool

	CacheTTL        time.Duration
	CacheMaxEntries int

	// ArchiveBucket enables post-download artifact upload when non-empty.
	ArchiveBucket    string
	ArchiveKeyPrefix string

	Logger *logrus.Logger
}

type manager struct {
	cfg        Config
	ext        extractor.Extractor
	transcoder transcoder.Transcoder
	archiver   storage.Service
	cache      *extractor.InfoCache

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*jobHandle

	// sleep is the single wait primitive for retry pacing; tests swap it
	// out so recovery paths run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

type jobHandle struct {
	job     domain.Job
	cancel  context.CancelFunc
	tracker *progressTracker
	done    chan struct{}
}

func NewManager(cfg Config, ext extractor.Extractor, tc transcoder.Transcoder, archiver storage.Service) Manager {
	if cfg.DownloadRoot == "" {
		cfg.DownloadRoot = "downloads"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:        cfg,
		ext:        ext,
		transcoder: tc,
		archiver:   archiver,
		cache:      extractor.NewInfoCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		active:     make(map[string]*jobHandle),
		sleep:      sleepCtx,
	}
}

var _ Manager = (*manager)(nil)

func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DownloadRoot, 0o755); err != nil {
		return fmt.Errorf("create download root: %w", err)
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	mergeCapable := m.transcoder != nil && m.transcoder.Available()
	m.cfg.Logger.WithFields(logrus.Fields{
		"download_root": m.cfg.DownloadRoot,
		"merge_capable": mergeCapable,
	}).Info("download manager started")
	if !mergeCapable {
		m.cfg.Logger.Warn("no transcoder found: merged high-resolution formats, repair, and trimming are disabled")
	}
	return nil
}

// Shutdown cancels every active job and waits for the handles to drain,
// bounded by ctx.
func (m *manager) Shutdown(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, handle := range m.active {
		handle.tracker.Cancel()
	}
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		m.cfg.Logger.Info("download manager stopped")
	case <-ctx.Done():
		m.cfg.Logger.WithField("jobs", len(m.Active())).Warn("shutdown deadline reached with jobs still draining")
	}
}

// Active lists the ids of jobs currently registered, sorted for stable
// output.
func (m *manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *manager) Enqueue(_ context.Context, job domain.Job, onProgress domain.ProgressFunc) error {
	if m.ctx == nil {
		return errors.New("manager is not started")
	}
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.URL == "" {
		return errors.New("job url is required")
	}

	jobCtx, cancel := context.WithCancel(m.ctx)
	handle := &jobHandle{
		job:     job,
		cancel:  cancel,
		tracker: newProgressTracker(job.ID, onProgress, m.cfg.ProgressInterval),
		done:    make(chan struct{}),
	}
	if err := m.register(job.ID, handle); err != nil {
		cancel()
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.unregister(job.ID)
			close(handle.done)
		}()

		handle.tracker.Publish(domain.ProgressEvent{Status: domain.StatusStarting})

		select {
		case <-jobCtx.Done():
			handle.tracker.Publish(domain.ProgressEvent{
				Status:       domain.StatusCancelled,
				ErrorMessage: context.Canceled.Error(),
			})
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.runJob(jobCtx, handle)
		}
	}()
	return nil
}

func (m *manager) register(id string, handle *jobHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[id]; exists {
		return fmt.Errorf("job %s is already active", id)
	}
	m.active[id] = handle
	return nil
}

func (m *manager) unregister(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getHandle(id string) (*jobHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

// Cancel requests cancellation and waits for the job to wind down. Unknown
// or already-finished ids are a no-op.
func (m *manager) Cancel(ctx context.Context, jobID string) error {
	handle, ok := m.getHandle(jobID)
	if !ok {
		return nil
	}

	handle.tracker.Cancel()
	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob owns a job from classification to terminal event.
func (m *manager) runJob(ctx context.Context, handle *jobHandle) {
	job := handle.job
	tag := platform.Classify(job.URL)
	strat := platform.Profile(tag)
	log := m.cfg.Logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"platform": tag,
	})
	log.WithField("quality", job.Quality).Info("job started")

	mergeCapable := m.transcoder != nil && m.transcoder.Available()
	base := m.newBaseOptions(job, mergeCapable)
	base.OutputTemplate = outputTemplate(m.cfg.DownloadRoot, job)

	var info *extractor.MediaInfo
	if !job.AudioOnly {
		info = m.probe(ctx, job.URL, strat, base, log)
	}

	var notices []string
	if notice := m.qualityCeilingNotice(job, info, mergeCapable); notice != "" {
		notices = append(notices, notice)
	}
	if job.InsecureSSL {
		notices = append(notices, "tls certificate verification disabled")
	}
	if job.OutputName != "" {
		if safe := SanitizeOutputName(job.OutputName); safe != job.OutputName {
			notices = append(notices, fmt.Sprintf("output name sanitized to %q", safe))
		}
	}

	var artifact string
	if !job.AudioOnly && mergeCapable && job.Mode != domain.ModeStandard {
		dualBase := base
		if strat.RobustFromStart {
			dualBase = robustify(dualBase)
		}
		path, err := m.tryDualStream(ctx, job, info, strat, dualBase, handle.tracker, log)
		switch {
		case err == nil:
			artifact = path
		case ctx.Err() != nil || handle.tracker.Cancelled():
			m.publishCancelled(handle)
			return
		case errors.Is(err, errDualStreamNotEligible):
			log.Debug("dual-stream acquisition not applicable, using the ladder")
		default:
			// Any dual-stream failure, merge included, falls back without
			// surfacing an error: the ladder is the path of record.
			log.WithError(err).Warn("dual-stream pipeline failed, falling back to the ladder")
		}
	}

	if artifact == "" {
		var ladder quality.Ladder
		if job.AudioOnly {
			ladder = quality.AudioLadder()
		} else {
			ladder = quality.Build(job.Quality, tag, mergeCapable, job.AudioLanguage)
		}

		runner := newAttemptRunner(m.ext, strat, base, handle.tracker, log, m.cfg.AllowInsecureRetry)
		runner.sleep = m.sleep
		outcome := runner.run(ctx, job.URL, ladder)
		if runner.insecureUsed {
			notices = append(notices, "retried without tls certificate verification after a certificate failure")
		}
		switch outcome.Kind {
		case domain.OutcomeSuccess:
			artifact = outcome.Path
		case domain.OutcomeCancelled:
			m.publishCancelled(handle)
			return
		default:
			log.WithError(outcome.Err).Error("job failed")
			handle.tracker.Publish(domain.ProgressEvent{
				Status:       domain.StatusError,
				ErrorMessage: outcome.Err.Error(),
			})
			return
		}
	}

	handle.tracker.Publish(domain.ProgressEvent{
		Status:   domain.StatusProcessing,
		Filename: artifact,
	})

	pp := newPostProcessor(m.transcoder, log)
	pp.sleep = m.sleep
	finalPath, ppNotices := pp.finalize(ctx, artifact, job.Trim)
	notices = append(notices, ppNotices...)

	if m.archiver != nil && m.cfg.ArchiveBucket != "" {
		if dest, err := m.archive(ctx, job.ID, finalPath, log); err != nil {
			log.WithError(err).Warn("artifact archive failed")
		} else {
			notices = append(notices, fmt.Sprintf("archived to %s", dest))
		}
	}

	finished := domain.ProgressEvent{
		Status:   domain.StatusFinished,
		Filename: finalPath,
		Percent:  100,
		Notices:  notices,
	}
	if fi, err := os.Stat(finalPath); err == nil {
		finished.DownloadedBytes = fi.Size()
		finished.TotalBytes = fi.Size()
	}
	handle.tracker.Publish(finished)
	log.WithField("path", finalPath).Info("job finished")
}

func (m *manager) publishCancelled(handle *jobHandle) {
	handle.tracker.Publish(domain.ProgressEvent{
		Status:       domain.StatusCancelled,
		ErrorMessage: context.Canceled.Error(),
	})
}

// probe resolves metadata through the bounded cache. Failures are logged
// and swallowed: metadata improves stream selection but is not required to
// download.
func (m *manager) probe(ctx context.Context, url string, strat platform.Strategy, base extractor.Options, log *logrus.Entry) *extractor.MediaInfo {
	if cached, ok := m.cache.Get(url); ok {
		log.Debug("metadata served from cache")
		return cached
	}

	opts := base
	if strat.RobustFromStart {
		opts = robustify(opts)
	}
	opts = applyStrategy(opts, strat)

	info, err := m.ext.Probe(ctx, url, opts)
	if err != nil {
		log.WithError(err).Warn("metadata probe failed")
		return nil
	}
	m.cache.Put(url, info)
	return info
}

// qualityCeilingNotice reports when a merge-incapable run cannot reach the
// requested tier because the host only muxes low resolutions.
func (m *manager) qualityCeilingNotice(job domain.Job, info *extractor.MediaInfo, mergeCapable bool) string {
	if job.AudioOnly || mergeCapable || info == nil {
		return ""
	}
	best := 0
	for _, f := range info.Formats {
		if f.HasVideo() && f.HasAudio() && f.Height > best {
			best = f.Height
		}
	}
	target := quality.TargetHeight(job.Quality)
	if best == 0 || best >= target {
		return ""
	}
	return fmt.Sprintf("requested %s but only %dp is available without a transcoder", job.Quality, best)
}

// archive uploads the finished artifact, teeing progress into the log.
func (m *manager) archive(ctx context.Context, jobID, path string, log *logrus.Entry) (string, error) {
	opts := storage.UploadOptions{
		Bucket:    m.cfg.ArchiveBucket,
		KeyPrefix: strings.Trim(m.cfg.ArchiveKeyPrefix, "/"),
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = fmt.Sprintf("job-%s", jobID)
	} else {
		opts.KeyPrefix = fmt.Sprintf("%s/job-%s", opts.KeyPrefix, jobID)
	}

	progressLogger := newArchiveProgressLogger(log)
	opts.ProgressCallback = func(done, total int64) {
		progressLogger(done, total)
	}

	log.WithField("path", path).Info("archiving artifact")
	return m.archiver.UploadFile(ctx, path, opts)
}

func newArchiveProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if total == 0 {
			if now.Sub(lastLog) < 500*time.Millisecond && done != 0 {
				return
			}
			lastLog = now
			logger.Infof("archive progress: %s uploaded", formatBytes(done))
			return
		}

		percent := float64(done) / float64(total) * 100
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		logger.Infof("archive progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
