package platform

import (
	"strings"

	"github.com/diorhc/YTDL/internal/extractor"
)

// Tag identifies a hosting platform. Classification is total: any URL maps
// to exactly one tag, with Unknown as the catch-all.
type Tag string

const (
	YouTube   Tag = "youtube"
	VK        Tag = "vk"
	Dzen      Tag = "dzen"
	Rutube    Tag = "rutube"
	Instagram Tag = "instagram"
	TikTok    Tag = "tiktok"
	Twitch    Tag = "twitch"
	Vimeo     Tag = "vimeo"
	Unknown   Tag = "unknown"
)

// domainMarkers is checked in order; the first substring hit wins.
var domainMarkers = []struct {
	marker string
	tag    Tag
}{
	{"youtube.com", YouTube},
	{"youtu.be", YouTube},
	{"youtube-nocookie.com", YouTube},
	{"vk.com", VK},
	{"vkontakte.ru", VK},
	{"dzen.ru", Dzen},
	{"zen.yandex", Dzen},
	{"rutube.ru", Rutube},
	{"instagram.com", Instagram},
	{"tiktok.com", TikTok},
	{"twitch.tv", Twitch},
	{"vimeo.com", Vimeo},
	{"player.vimeo.com", Vimeo},
}

// Classify maps a URL to its platform tag. It never fails; unrecognized
// hosts come back as Unknown.
func Classify(rawURL string) Tag {
	url := strings.ToLower(rawURL)
	for _, d := range domainMarkers {
		if strings.Contains(url, d.marker) {
			return d.tag
		}
	}
	return Unknown
}

// Strategy bundles every per-platform decision the engine makes: request
// headers, hardened defaults, ladder overrides, fragment posture, and the
// format scoring used by dual-stream selection.
type Strategy struct {
	Tag Tag

	// Extra request headers. Empty fields are not sent.
	Referer        string
	Origin         string
	AcceptLanguage string
	ClientID       string

	// ExtractorArgs tunes the backend extractor for this platform.
	ExtractorArgs string

	// RobustFromStart applies the hardened option profile on the first
	// attempt instead of waiting for a failure.
	RobustFromStart bool

	// FragmentSensitive marks platforms whose delivery is fragmented and
	// known to corrupt; fragment failures on other platforms are treated
	// as generic errors.
	FragmentSensitive bool
	FragmentRetries   int
	SkipBadFragments  bool
	IgnoreErrors      bool
}

// twitchClientID is the public web player client id; sending it avoids an
// extra auth roundtrip on clip endpoints.
const twitchClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

var strategies = map[Tag]Strategy{
	YouTube: {Tag: YouTube},
	VK: {
		Tag:             VK,
		RobustFromStart: true,
	},
	Dzen: {
		Tag:           Dzen,
		Referer:       "https://dzen.ru/",
		Origin:        "https://dzen.ru",
		ExtractorArgs: "dzen:api_version=v3",
	},
	Rutube: {
		Tag:     Rutube,
		Referer: "https://rutube.ru/",
	},
	Instagram: {
		Tag:             Instagram,
		RobustFromStart: true,
		AcceptLanguage:  "en-US,en;q=0.9",
	},
	TikTok: {
		Tag:             TikTok,
		RobustFromStart: true,
		AcceptLanguage:  "en-US,en;q=0.9",
	},
	Twitch: {
		Tag:               Twitch,
		ClientID:          twitchClientID,
		FragmentSensitive: true,
		FragmentRetries:   10,
		SkipBadFragments:  true,
		IgnoreErrors:      true,
	},
	Vimeo:   {Tag: Vimeo},
	Unknown: {Tag: Unknown},
}

// Profile returns the strategy for a tag. Unknown tags get the neutral
// profile.
func Profile(tag Tag) Strategy {
	if s, ok := strategies[tag]; ok {
		return s
	}
	return strategies[Unknown]
}

// ScoreFormat rates a format's transport reliability for dual-stream
// selection. Higher is better. The weights are per-platform policy, not a
// global law: dzen serves broken DASH segments so its HLS formats win,
// while everywhere else plain HTTPS beats HLS.
func (s Strategy) ScoreFormat(f extractor.FormatInfo) int {
	protocol := strings.ToLower(f.Protocol)
	formatID := strings.ToLower(f.ID)

	if s.Tag == Dzen {
		switch {
		case strings.Contains(formatID, "hls") || strings.Contains(protocol, "m3u8"):
			return 2
		case strings.Contains(formatID, "dash"):
			return 0
		default:
			return 1
		}
	}

	if strings.Contains(protocol, "https") &&
		!strings.Contains(protocol, "m3u8") &&
		!strings.Contains(f.FormatNote, "Untested") {
		return 1
	}
	return 0
}
