package quality

import (
	"strings"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/platform"
)

// Ladder is an ordered sequence of format selector expressions, most
// preferred first. The downloader walks it front to back; building one is
// pure and deterministic, so equal inputs always yield equal ladders.
type Ladder []string

// Build assembles the selector ladder for one job. The family is chosen by
// platform first, then by merge capability: hosts that cannot merge split
// streams only ever see selectors demanding both codecs in one file.
func Build(tier domain.QualityTier, tag platform.Tag, mergeCapable bool, audioLanguage string) Ladder {
	var entries []string
	switch {
	case tag == platform.Dzen:
		entries = dzenEntries(tier)
	case tag == platform.Twitch:
		// Twitch delivers fragmented HLS; merged selectors stall, so the
		// whole ladder collapses to combined MP4.
		entries = []string{"best[ext=mp4]/best", "best"}
	default:
		entries = defaultEntries(tier, mergeCapable)
	}

	ladder := make(Ladder, len(entries))
	for i, selector := range entries {
		if audioLanguage != "" {
			selector = weaveLanguage(selector, audioLanguage)
		}
		ladder[i] = selector
	}
	return ladder
}

// AudioLadder is the fixed ladder for audio-only jobs.
func AudioLadder() Ladder {
	return Ladder{"bestaudio/best"}
}

// TargetHeight maps a tier to the pixel height dual-stream selection aims
// for. Tiers without an explicit target share the 1080p default.
func TargetHeight(tier domain.QualityTier) int {
	if h, ok := targetHeights[tier]; ok {
		return h
	}
	return 1080
}

var targetHeights = map[domain.QualityTier]int{
	domain.QualityBest:  2160,
	domain.Quality4K:    2160,
	domain.Quality1440p: 1440,
	domain.Quality1080p: 1080,
	domain.Quality720p:  720,
	domain.Quality480p:  480,
	domain.Quality360p:  360,
}

// weaveLanguage rewrites one selector to prefer an audio language while
// keeping the unmodified selector as fallback, so a missing track never
// fails the entry. Merge selectors get the language filter on the audio
// leg; combined selectors get it on the whole expression.
func weaveLanguage(selector, lang string) string {
	if strings.Contains(selector, "+") {
		parts := strings.Split(selector, "+")
		if len(parts) != 2 {
			return selector
		}
		return parts[0] + "+bestaudio[language=" + lang + "]/" + selector
	}
	return selector + "[language=" + lang + "]/" + selector
}

func defaultEntries(tier domain.QualityTier, mergeCapable bool) []string {
	if mergeCapable {
		if entries, ok := mergeLadders[tier]; ok {
			return entries
		}
		return []string{
			"bestvideo[height>=720]+bestaudio/best[height>=720]",
			"bestvideo[height>=480]+bestaudio/best[height>=480]",
			"bestvideo[height>=360]+bestaudio/best[height>=360]",
			"bestvideo+bestaudio/best",
			"best",
		}
	}
	if entries, ok := muxedLadders[tier]; ok {
		return entries
	}
	return []string{
		"best[height>=720][vcodec!*=none][acodec!*=none]",
		"best[height>=480][vcodec!*=none][acodec!*=none]",
		"best[height>=360][vcodec!*=none][acodec!*=none]",
		"best[vcodec!*=none][acodec!*=none]",
		"best",
	}
}

func dzenEntries(tier domain.QualityTier) []string {
	if entries, ok := dzenLadders[tier]; ok {
		return entries
	}
	return dzenLadders[domain.QualityBest]
}

// mergeLadders are used when the transcoder can join split streams. Early
// entries chase the requested band via separate video+audio legs, middle
// entries accept combined files in the band, and the tail degrades toward
// anything playable.
var mergeLadders = map[domain.QualityTier][]string{
	domain.QualityBest: {
		"bestvideo[height>=1080]+bestaudio/best[height>=1080]",
		"bestvideo[height>=720]+bestaudio/best[height>=720]",
		"bestvideo+bestaudio/best[height>=480]",
		"best[height>=1080]", "best[height>=720]", "best[height>=480]",
		"best[height<=2160]", "best[height<=1080]", "best[height<=720]",
		"bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality4K: {
		"bestvideo[height>=2160]+bestaudio/best[height>=2160]",
		"bestvideo[height>=1440]+bestaudio/best[height>=1440]",
		"bestvideo[height>=1080]+bestaudio/best[height>=1080]",
		"best[height>=2160]", "best[height>=1440]", "best[height>=1080]",
		"best[height<=2160]", "best[height<=1440]", "best[height<=1080]",
		"bestvideo[height>=2160]+bestaudio/best[height<=2160]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality1440p: {
		"bestvideo[height<=1440][height>=1080]+bestaudio/best[height<=1440][height>=1080]",
		"bestvideo[height<=1440]+bestaudio/best[height<=1440]",
		"best[height<=1440][height>=1080]",
		"best[height<=1440]", "best[height>=1080]",
		"bestvideo[height>=1080]+bestaudio/best[height>=1080]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality1080p: {
		"bestvideo[height<=1080][height>=720]+bestaudio/best[height<=1080][height>=720]",
		"bestvideo[height<=1080]+bestaudio/best[height<=1080]",
		"best[height<=1080][height>=720]",
		"best[height<=1080]", "best[height>=720]",
		"bestvideo[height>=720]+bestaudio/best[height>=720]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality720p: {
		"bestvideo[height<=720][height>=480]+bestaudio/best[height<=720][height>=480]",
		"bestvideo[height<=720]+bestaudio/best[height<=720]",
		"best[height<=720][height>=480]",
		"best[height<=720]", "best[height>=480]",
		"bestvideo[height>=480]+bestaudio/best[height>=480]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality480p: {
		"bestvideo[height<=480][height>=360]+bestaudio/best[height<=480][height>=360]",
		"bestvideo[height<=480]+bestaudio/best[height<=480]",
		"best[height<=480][height>=360]",
		"best[height<=480]", "best[height>=360]",
		"bestvideo[height>=360]+bestaudio/best[height>=360]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality360p: {
		"bestvideo[height<=360][height>=240]+bestaudio/best[height<=360][height>=240]",
		"bestvideo[height<=360]+bestaudio/best[height<=360]",
		"best[height<=360][height>=240]",
		"best[height<=360]", "best[height>=240]",
		"bestvideo[height>=240]+bestaudio/best[height>=240]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality240p: {
		"bestvideo[height<=240][height>=144]+bestaudio/best[height<=240][height>=144]",
		"bestvideo[height<=240]+bestaudio/best[height<=240]",
		"best[height<=240][height>=144]",
		"best[height<=240]", "best[height>=144]",
		"bestvideo[height>=144]+bestaudio/best[height>=144]",
		"bestvideo+bestaudio/best", "best",
	},
	domain.Quality144p: {
		"bestvideo[height<=144]+bestaudio/best[height<=144]",
		"best[height<=144]",
		"bestvideo[height>=144]+bestaudio/best[height>=144]",
		"bestvideo+bestaudio/best", "best",
	},
}

// muxedLadders only name formats carrying both streams in one file. The
// lowest tiers keep "worst" escapes because some hosts expose nothing but a
// single tiny muxed rendition.
var muxedLadders = map[domain.QualityTier][]string{
	domain.QualityBest: {
		"best[vcodec!*=none][acodec!*=none]",
		"best[height>=1080][vcodec!*=none][acodec!*=none]",
		"best[height>=720][vcodec!*=none][acodec!*=none]",
		"best[height>=480][vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality4K: {
		"best[height>=2160][vcodec!*=none][acodec!*=none]",
		"best[height>=1440][vcodec!*=none][acodec!*=none]",
		"best[height>=1080][vcodec!*=none][acodec!*=none]",
		"best[height>=720][vcodec!*=none][acodec!*=none]",
		"best[vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality1440p: {
		"best[height>=1440][vcodec!*=none][acodec!*=none]",
		"best[height>=1080][vcodec!*=none][acodec!*=none]",
		"best[height>=720][vcodec!*=none][acodec!*=none]",
		"best[height>=480][vcodec!*=none][acodec!*=none]",
		"best[vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality1080p: {
		"best[height>=1080][vcodec!*=none][acodec!*=none]",
		"best[height>=720][vcodec!*=none][acodec!*=none]",
		"best[height>=480][vcodec!*=none][acodec!*=none]",
		"best[height>=360][vcodec!*=none][acodec!*=none]",
		"best[vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality720p: {
		"best[height>=720][vcodec!*=none][acodec!*=none]",
		"best[height>=480][vcodec!*=none][acodec!*=none]",
		"best[height>=360][vcodec!*=none][acodec!*=none]",
		"best[height>=240][vcodec!*=none][acodec!*=none]",
		"best[vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality480p: {
		"best[height=480][vcodec!*=none][acodec!*=none]",
		"best[height>=480][height<720][vcodec!*=none][acodec!*=none]",
		"best[height<=480][height>=360][vcodec!*=none][acodec!*=none]",
		"best[height<=480][vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality360p: {
		"best[height=360][vcodec!*=none][acodec!*=none]",
		"best[height>=360][height<480][vcodec!*=none][acodec!*=none]",
		"best[height<=360][height>=240][vcodec!*=none][acodec!*=none]",
		"best[height<=360][vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
	},
	domain.Quality240p: {
		"best[height=240][vcodec!*=none][acodec!*=none]",
		"best[height>=240][height<360][vcodec!*=none][acodec!*=none]",
		"best[height<=240][height>=144][vcodec!*=none][acodec!*=none]",
		"best[height<=240][vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
		"worst[height=240][vcodec!*=none][acodec!*=none]",
		"worst[ext=mp4]", "worst",
	},
	domain.Quality144p: {
		"best[height=144][vcodec!*=none][acodec!*=none]",
		"best[height>=144][height<240][vcodec!*=none][acodec!*=none]",
		"best[height<=144][vcodec!*=none][acodec!*=none]",
		"best[ext=mp4]", "best",
		"worst[height=144][vcodec!*=none][acodec!*=none]",
		"worst[ext=mp4]", "worst",
	},
}

// dzenLadders lean on combined MP4 because the host's DASH legs are served
// broken; separate-stream selectors are kept late and always pair MP4 video
// with M4A audio. Tiers without a dedicated ladder use the "best" one.
var dzenLadders = map[domain.QualityTier][]string{
	domain.QualityBest: {
		"best[ext=mp4]",
		"bestvideo[ext=mp4]+bestaudio[ext=m4a]/best",
		"best[height<=1080]",
		"best[height<=720]",
		"best",
	},
	domain.Quality4K: {
		"best[height<=2160][ext=mp4]",
		"best[height<=1440][ext=mp4]",
		"bestvideo[height<=2160][ext=mp4]+bestaudio[ext=m4a]/best[height<=2160]",
		"bestvideo[height<=1440][ext=mp4]+bestaudio[ext=m4a]/best[height<=1440]",
		"best[ext=mp4]", "best",
	},
	domain.Quality1440p: {
		"best[height<=1440][ext=mp4]",
		"best[height<=1080][ext=mp4]",
		"bestvideo[height<=1440][ext=mp4]+bestaudio[ext=m4a]/best[height<=1440]",
		"bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080]",
		"best[ext=mp4]", "best",
	},
	domain.Quality1080p: {
		"best[height<=1080][ext=mp4]",
		"best[height<=720][ext=mp4]",
		"bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080]",
		"bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720]",
		"best[ext=mp4]", "best",
	},
	domain.Quality720p: {
		"best[height<=720][ext=mp4]",
		"best[height<=480][ext=mp4]",
		"bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720]",
		"bestvideo[height<=480][ext=mp4]+bestaudio[ext=m4a]/best[height<=480]",
		"best[ext=mp4]", "best",
	},
	domain.Quality480p: {
		"best[height<=480][ext=mp4]",
		"best[height<=360][ext=mp4]",
		"bestvideo[height<=480][ext=mp4]+bestaudio[ext=m4a]/best[height<=480]",
		"bestvideo[height<=360][ext=mp4]+bestaudio[ext=m4a]/best[height<=360]",
		"best[ext=mp4]", "best",
	},
	domain.Quality360p: {
		"best[height<=360][ext=mp4]",
		"best[height<=240][ext=mp4]",
		"bestvideo[height<=360][ext=mp4]+bestaudio[ext=m4a]/best[height<=360]",
		"bestvideo[height<=240][ext=mp4]+bestaudio[ext=m4a]/best[height<=240]",
		"best[ext=mp4]", "best",
	},
}
