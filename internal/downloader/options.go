package downloader

import (
	"context"
	"path/filepath"
	"regexp"
	"time"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/extractor"
	"github.com/diorhc/YTDL/internal/platform"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// fallbackUserAgents is the rotation pool for 403 recovery. Index selection
// is round-robin over the per-job forbidden counter.
var fallbackUserAgents = []string{
	defaultUserAgent,
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

const youtubeExtractorTuning = "youtube:skip=hls,dash;player_skip=configs;innertube_host=studio.youtube.com,youtubei.googleapis.com"

// newBaseOptions builds the job-level option bag before any per-attempt
// adjustment.
func (m *manager) newBaseOptions(job domain.Job, mergeCapable bool) extractor.Options {
	opts := extractor.Options{
		UserAgent:       defaultUserAgent,
		SocketTimeout:   m.cfg.SocketTimeout,
		Retries:         m.cfg.Retries,
		FragmentRetries: m.cfg.Retries,
		NoPlaylist:      true,
		CookiesFile:     m.cfg.CookiesFile,
		FFmpegLocation:  m.cfg.FFmpegLocation,
		SkipTLSVerify:   job.InsecureSSL,
	}
	if job.AudioOnly {
		if mergeCapable {
			opts.ExtractAudio = true
			opts.AudioFormat = "mp3"
			opts.AudioQuality = "192"
		}
	} else if mergeCapable {
		opts.MergeOutputFormat = "mp4"
	}
	return opts
}

// robustify swaps in the hardened profile used after a first failure:
// browser-like headers, more retries, longer timeouts, chunked transfers,
// and extractor tuning that sidesteps throttled transport legs.
func robustify(o extractor.Options) extractor.Options {
	o.UserAgent = defaultUserAgent
	o.Accept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	o.AcceptLanguage = "en-us,en;q=0.5"
	o.AcceptEncoding = "gzip,deflate"
	o.AcceptCharset = "ISO-8859-1,utf-8;q=0.7,*;q=0.7"
	o.KeepAlive = true
	o.UpgradeInsecureRequests = true
	o.Retries = 8
	o.FragmentRetries = 8
	o.SocketTimeout = 60 * time.Second
	o.HTTPChunkSize = 10485760
	o.ConcurrentFragments = 4
	o.BufferSize = 16384
	o.GeoBypassCountry = "US"
	if o.ExtractorArgs == "" {
		o.ExtractorArgs = youtubeExtractorTuning
	}
	return o
}

// applyForbiddenProfile layers the 403 recovery posture on top: a rotated
// identity and patient timeouts.
func applyForbiddenProfile(o extractor.Options, rotation int) extractor.Options {
	o.UserAgent = fallbackUserAgents[rotation%len(fallbackUserAgents)]
	o.SocketTimeout = 90 * time.Second
	o.Retries = 3
	o.FragmentRetries = 3
	return o
}

// applyStrategy stamps platform policy onto the bag. It runs last so the
// platform always wins over generic hardening.
func applyStrategy(o extractor.Options, strat platform.Strategy) extractor.Options {
	if strat.Referer != "" {
		o.Referer = strat.Referer
	}
	if strat.Origin != "" {
		o.Origin = strat.Origin
	}
	if strat.AcceptLanguage != "" {
		o.AcceptLanguage = strat.AcceptLanguage
	}
	if strat.ClientID != "" {
		o.ClientID = strat.ClientID
	}
	if strat.ExtractorArgs != "" {
		o.ExtractorArgs = strat.ExtractorArgs
	}
	if strat.FragmentRetries > 0 {
		o.FragmentRetries = strat.FragmentRetries
	}
	if strat.SkipBadFragments {
		o.SkipUnavailableFragments = true
	}
	if strat.IgnoreErrors {
		o.IgnoreErrors = true
	}
	return o
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeOutputName replaces filesystem-hostile characters so a caller
// supplied name can never escape the download root or break the output
// template.
func SanitizeOutputName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// outputTemplate renders the backend output template for a job. Audio-only
// jobs are pinned to an mp3 name; everything else keeps the extension the
// backend chooses.
func outputTemplate(root string, job domain.Job) string {
	name := "%(title)s"
	if job.OutputName != "" {
		name = SanitizeOutputName(job.OutputName)
	}
	ext := "%(ext)s"
	if job.AudioOnly {
		ext = "mp3"
	}
	return filepath.Join(root, name+"."+ext)
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
