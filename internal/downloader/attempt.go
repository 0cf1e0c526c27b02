package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/extractor"
	"github.com/diorhc/YTDL/internal/platform"
	"github.com/diorhc/YTDL/internal/quality"
)

// Recovery caps. Each failure class gets a bounded number of same-entry
// retries; once a cap is hit the runner moves down the ladder instead of
// looping.
const (
	forbiddenRetryCap  = 2
	fileLockRetryCap   = 2
	fragmentFailureCap = 3
)

// combinedFallbackSelector avoids split streams entirely; it is forced onto
// fragment-sensitive platforms after the first corrupted transfer.
const combinedFallbackSelector = "best[ext=mp4]/best"

const maxForbiddenDelay = 30 * time.Second

// attemptRunner walks one job's selector ladder, classifying each failure
// and applying its recovery before deciding whether to retry the entry,
// advance, or give up. A runner is owned by a single goroutine.
type attemptRunner struct {
	ext     extractor.Extractor
	strat   platform.Strategy
	base    extractor.Options
	tracker *progressTracker
	log     *logrus.Entry

	rng                *rand.Rand
	sleep              func(ctx context.Context, d time.Duration) error
	allowInsecureRetry bool

	// forbiddenCount persists across ladder entries so identity rotation
	// keeps moving instead of resetting to the same blocked agent.
	forbiddenCount int

	// insecureUsed records that the one-time certificate bypass engaged,
	// so the finished event can carry a warning.
	insecureUsed bool
}

func newAttemptRunner(ext extractor.Extractor, strat platform.Strategy, base extractor.Options, tracker *progressTracker, log *logrus.Entry, allowInsecureRetry bool) *attemptRunner {
	return &attemptRunner{
		ext:                ext,
		strat:              strat,
		base:               base,
		tracker:            tracker,
		log:                log,
		rng:                rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:              sleepCtx,
		allowInsecureRetry: allowInsecureRetry,
	}
}

// run drives the ladder to a terminal outcome. It returns OutcomeSuccess
// with the artifact path, or the failure kind that ended the job.
func (r *attemptRunner) run(ctx context.Context, url string, ladder quality.Ladder) domain.AttemptOutcome {
	if len(ladder) == 0 {
		return domain.Failed(domain.OutcomeError, errors.New("empty format ladder"))
	}

	var (
		lastErr          error
		insecure         = r.base.SkipTLSVerify
		forceCombined    bool
		fragmentFailures int
	)

ladder:
	for index := 0; index < len(ladder); index++ {
		selector := ladder[index]
		if forceCombined {
			selector = combinedFallbackSelector
		}

		var (
			sslRetried       bool
			forbiddenRetries int
			lockRetries      int
		)

		if index > 0 {
			// Widening the search also swaps in the robust profile; pause
			// briefly so the host does not see a burst of retries.
			if err := r.sleep(ctx, r.jitterSeconds(2, 5)); err != nil {
				return domain.Failed(domain.OutcomeCancelled, err)
			}
		}

		for {
			if r.tracker.Cancelled() || ctx.Err() != nil {
				return domain.Failed(domain.OutcomeCancelled, context.Canceled)
			}

			opts := r.buildAttempt(selector, index, insecure, forceCombined, forbiddenRetries)
			path, err := r.ext.Fetch(ctx, url, opts, r.onProgress)
			if err == nil {
				return domain.Succeeded(path)
			}
			if r.tracker.Cancelled() || ctx.Err() != nil {
				return domain.Failed(domain.OutcomeCancelled, err)
			}
			lastErr = err

			switch {
			case errors.Is(err, extractor.ErrNotFound):
				r.log.WithError(err).Warn("target is gone, no retry will help")
				return domain.Failed(domain.OutcomeNotFound, err)

			case errors.Is(err, extractor.ErrSSLVerification):
				if r.allowInsecureRetry && !insecure && !sslRetried {
					sslRetried = true
					insecure = true
					r.insecureUsed = true
					r.log.Warn("certificate verification failed, retrying once without verification")
					continue
				}
				if out, ok := r.advance(ctx, index, len(ladder)); !ok {
					return out
				}
				continue ladder

			case errors.Is(err, extractor.ErrForbidden):
				r.forbiddenCount++
				if forbiddenRetries < forbiddenRetryCap {
					forbiddenRetries++
					delay := r.forbiddenDelay()
					r.log.WithFields(logrus.Fields{
						"rotation": r.forbiddenCount,
						"delay":    delay.Round(time.Millisecond),
					}).Warn("access denied, rotating request identity")
					if err := r.sleep(ctx, delay); err != nil {
						return domain.Failed(domain.OutcomeCancelled, err)
					}
					continue
				}
				r.log.Warn("access still denied after identity rotation, moving down the ladder")
				continue ladder

			case errors.Is(err, extractor.ErrFileLocked):
				if lockRetries < fileLockRetryCap {
					delay := time.Duration((1.5 + float64(lockRetries)) * float64(time.Second))
					lockRetries++
					r.log.WithField("delay", delay).Warn("output file locked, waiting for the holder")
					if err := r.sleep(ctx, delay); err != nil {
						return domain.Failed(domain.OutcomeCancelled, err)
					}
					continue
				}
				if out, ok := r.advance(ctx, index, len(ladder)); !ok {
					return out
				}
				continue ladder

			case errors.Is(err, extractor.ErrFragmentCorrupted):
				if !r.strat.FragmentSensitive {
					if out, ok := r.advance(ctx, index, len(ladder)); !ok {
						return out
					}
					continue ladder
				}
				fragmentFailures++
				switch {
				case fragmentFailures == 1:
					forceCombined = true
					selector = combinedFallbackSelector
					r.log.Warn("fragment corruption, forcing combined format")
					continue
				case fragmentFailures < fragmentFailureCap:
					if err := r.sleep(ctx, 2*time.Second); err != nil {
						return domain.Failed(domain.OutcomeCancelled, err)
					}
					continue
				default:
					r.log.WithError(err).Error("fragment corruption persists, giving up on the job")
					return domain.Failed(domain.OutcomeFragmentError, err)
				}

			case errors.Is(err, extractor.ErrFormatUnavailable):
				r.log.WithField("format", selector).Debug("selector matched nothing, trying the next one")
				continue ladder

			default:
				r.log.WithError(err).Warn("download attempt failed")
				if out, ok := r.advance(ctx, index, len(ladder)); !ok {
					return out
				}
				continue ladder
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no format selector succeeded")
	}
	return domain.Failed(domain.OutcomeError, fmt.Errorf("all download attempts failed: %w", lastErr))
}

// buildAttempt assembles the option bag for one attempt. A fresh copy of
// the base is taken every time so earlier recoveries never leak state.
func (r *attemptRunner) buildAttempt(selector string, index int, insecure, forceCombined bool, forbiddenRetries int) extractor.Options {
	opts := r.base
	opts.FormatSelector = selector
	if index > 0 || r.strat.RobustFromStart || forbiddenRetries > 0 {
		opts = robustify(opts)
	}
	if forbiddenRetries > 0 {
		opts = applyForbiddenProfile(opts, r.forbiddenCount)
	}
	opts.SkipTLSVerify = insecure
	if forceCombined {
		opts.SkipUnavailableFragments = true
	}
	return applyStrategy(opts, r.strat)
}

// advance applies the generic between-entry delay. The last entry gets no
// delay since there is nothing left to try. ok is false when the wait was
// interrupted by cancellation.
func (r *attemptRunner) advance(ctx context.Context, index, total int) (domain.AttemptOutcome, bool) {
	if index >= total-1 {
		return domain.AttemptOutcome{}, true
	}
	if err := r.sleep(ctx, r.jitterSeconds(1, 3)); err != nil {
		return domain.Failed(domain.OutcomeCancelled, err), false
	}
	return domain.AttemptOutcome{}, true
}

// forbiddenDelay grows linearly with the number of 403s this job has seen,
// plus jitter, capped so a stubborn host cannot stall the job for minutes.
func (r *attemptRunner) forbiddenDelay() time.Duration {
	base := 5 + 3*float64(r.forbiddenCount-1) + r.randFloat(1, 3)
	delay := time.Duration(base * float64(time.Second))
	if delay > maxForbiddenDelay {
		delay = maxForbiddenDelay
	}
	return delay
}

func (r *attemptRunner) jitterSeconds(min, max float64) time.Duration {
	return time.Duration(r.randFloat(min, max) * float64(time.Second))
}

func (r *attemptRunner) randFloat(min, max float64) float64 {
	return min + r.rng.Float64()*(max-min)
}

func (r *attemptRunner) onProgress(p extractor.Progress) {
	r.tracker.Publish(domain.ProgressEvent{
		Status:          domain.StatusDownloading,
		DownloadedBytes: p.DownloadedBytes,
		TotalBytes:      p.TotalBytes,
		Percent:         p.Percent,
		Filename:        p.Filename,
	})
}
