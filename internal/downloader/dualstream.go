package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/extractor"
	"github.com/diorhc/YTDL/internal/platform"
	"github.com/diorhc/YTDL/internal/quality"
)

// errDualStreamNotEligible marks targets where separate acquisition cannot
// work (muxed-only hosts, no matching audio track). The caller falls back
// to the ladder without surfacing this to the user.
var errDualStreamNotEligible = errors.New("dual-stream acquisition not applicable")

// selectStreams picks the video-only and audio-only formats to fetch
// separately. Video candidates are ranked by transport reliability first,
// then proximity to the target height, then height, then bitrate; audio by
// reliability then bitrate. Returns nils when the target offers no usable
// pair.
func selectStreams(info *extractor.MediaInfo, tier domain.QualityTier, strat platform.Strategy, audioLanguage string) (video, audio *extractor.FormatInfo) {
	if info == nil {
		return nil, nil
	}
	target := quality.TargetHeight(tier)

	var videos, audios []extractor.FormatInfo
	for _, f := range info.Formats {
		if f.ID == "" || f.URL == "" {
			continue
		}
		switch {
		case f.HasVideo() && !f.HasAudio() && f.Height > 0:
			videos = append(videos, f)
		case f.HasAudio() && !f.HasVideo():
			audios = append(audios, f)
		}
	}
	if len(videos) == 0 || len(audios) == 0 {
		return nil, nil
	}

	if audioLanguage != "" {
		var matching []extractor.FormatInfo
		for _, f := range audios {
			if f.Language == audioLanguage {
				matching = append(matching, f)
			}
		}
		// No fallback here: a caller asking for a language gets that
		// language via separate streams or not at all. The ladder path
		// still weaves a language preference with fallback.
		if len(matching) == 0 {
			return nil, nil
		}
		audios = matching
	}

	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		if sa, sb := strat.ScoreFormat(a), strat.ScoreFormat(b); sa != sb {
			return sa > sb
		}
		if da, db := intAbs(a.Height-target), intAbs(b.Height-target); da != db {
			return da < db
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return videoBitrate(a) > videoBitrate(b)
	})
	sort.SliceStable(audios, func(i, j int) bool {
		a, b := audios[i], audios[j]
		if sa, sb := strat.ScoreFormat(a), strat.ScoreFormat(b); sa != sb {
			return sa > sb
		}
		return audioBitrate(a) > audioBitrate(b)
	})

	return &videos[0], &audios[0]
}

func intAbs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func videoBitrate(f extractor.FormatInfo) float64 {
	if f.TBR > 0 {
		return f.TBR
	}
	return f.VBR
}

func audioBitrate(f extractor.FormatInfo) float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}

// tryDualStream fetches the chosen video and audio legs concurrently into a
// scoped staging directory and merges them into the final artifact. The
// staging directory is removed on every path out.
func (m *manager) tryDualStream(ctx context.Context, job domain.Job, info *extractor.MediaInfo, strat platform.Strategy, base extractor.Options, tracker *progressTracker, log *logrus.Entry) (string, error) {
	video, audio := selectStreams(info, job.Quality, strat, job.AudioLanguage)
	if video == nil || audio == nil {
		return "", errDualStreamNotEligible
	}

	stagingDir, err := os.MkdirTemp(m.cfg.DownloadRoot, "dual-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	log.WithFields(logrus.Fields{
		"video_format": video.ID,
		"video_height": video.Height,
		"audio_format": audio.ID,
	}).Info("fetching video and audio streams separately")

	var (
		wg                   sync.WaitGroup
		videoPath, audioPath string
		videoErr, audioErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		videoPath, videoErr = m.fetchStream(ctx, job.URL, video.ID,
			filepath.Join(stagingDir, "video.%(ext)s"), strat, base, tracker)
	}()
	go func() {
		defer wg.Done()
		audioPath, audioErr = m.fetchStream(ctx, job.URL, audio.ID,
			filepath.Join(stagingDir, "audio.%(ext)s"), strat, base, tracker)
	}()
	wg.Wait()

	if videoErr != nil {
		return "", fmt.Errorf("video stream: %w", videoErr)
	}
	if audioErr != nil {
		return "", fmt.Errorf("audio stream: %w", audioErr)
	}

	finalPath := m.mergedOutputPath(job, info)
	if err := m.transcoder.Merge(ctx, videoPath, audioPath, finalPath); err != nil {
		return "", fmt.Errorf("merge streams: %w", err)
	}

	log.WithField("path", finalPath).Info("streams merged")
	return finalPath, nil
}

// fetchStream downloads exactly one format id into the given template.
func (m *manager) fetchStream(ctx context.Context, url, formatID, template string, strat platform.Strategy, base extractor.Options, tracker *progressTracker) (string, error) {
	opts := base
	opts.FormatSelector = formatID
	opts.OutputTemplate = template
	opts = applyStrategy(opts, strat)

	return m.ext.Fetch(ctx, url, opts, func(p extractor.Progress) {
		tracker.Publish(domain.ProgressEvent{
			Status:          domain.StatusDownloading,
			DownloadedBytes: p.DownloadedBytes,
			TotalBytes:      p.TotalBytes,
			Percent:         p.Percent,
			Filename:        p.Filename,
		})
	})
}

// mergedOutputPath decides where a merged artifact lands: the explicit
// output name when given, otherwise the media title, otherwise the job id.
func (m *manager) mergedOutputPath(job domain.Job, info *extractor.MediaInfo) string {
	name := job.OutputName
	if name == "" && info != nil {
		name = info.Title
	}
	if name == "" {
		name = job.ID
	}
	return filepath.Join(m.cfg.DownloadRoot, SanitizeOutputName(name)+".mp4")
}
