package extractor

import (
	"errors"
	"fmt"
	"time"
)

// Options is the per-attempt option bag handed to the backend. Every field
// is a scalar so a plain assignment yields an independent copy; recovery
// code mutates copies freely without aliasing surprises.
type Options struct {
	// FormatSelector is the selector expression for this attempt. Required
	// for Fetch, ignored by Probe.
	FormatSelector string
	// OutputTemplate is the backend output template, e.g.
	// "/downloads/name.%(ext)s". Required for Fetch.
	OutputTemplate string

	// Browser identity presented to the host.
	UserAgent      string
	Referer        string
	Origin         string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
	AcceptCharset  string
	// ClientID is an extra platform header (Twitch public client id).
	ClientID                string
	KeepAlive               bool
	UpgradeInsecureRequests bool

	// Network shape.
	SocketTimeout       time.Duration
	Retries             int
	FragmentRetries     int
	ConcurrentFragments int
	HTTPChunkSize       int64
	BufferSize          int
	GeoBypassCountry    string

	// Failure posture.
	SkipTLSVerify            bool
	SkipUnavailableFragments bool
	IgnoreErrors             bool

	// ExtractorArgs is an optional backend extractor tuning string, e.g.
	// "youtube:skip=hls,dash". At most one extractor is tuned per attempt,
	// so a single string keeps the bag copyable by assignment.
	ExtractorArgs string

	// Tooling.
	CookiesFile       string
	FFmpegLocation    string
	MergeOutputFormat string

	// Audio extraction.
	ExtractAudio bool
	AudioFormat  string
	AudioQuality string

	NoPlaylist bool
}

// Validate rejects option bags the backend could not act on.
func (o Options) Validate() error {
	if o.SocketTimeout < 0 {
		return errors.New("socket timeout must not be negative")
	}
	if o.Retries < 0 || o.FragmentRetries < 0 {
		return errors.New("retry counts must not be negative")
	}
	if o.ConcurrentFragments < 0 {
		return errors.New("concurrent fragment count must not be negative")
	}
	if o.HTTPChunkSize < 0 {
		return errors.New("http chunk size must not be negative")
	}
	if o.ExtractAudio && o.AudioFormat == "" {
		return errors.New("audio extraction requires an audio format")
	}
	return nil
}

// validateForFetch adds the fields only a download needs.
func (o Options) validateForFetch() error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.FormatSelector == "" {
		return errors.New("format selector is required")
	}
	if o.OutputTemplate == "" {
		return errors.New("output template is required")
	}
	return nil
}

// args renders the bag as backend command-line arguments, excluding the
// format selector and output template which the caller positions itself.
func (o Options) args() []string {
	var args []string

	addHeader := func(name, value string) {
		if value != "" {
			args = append(args, "--add-header", fmt.Sprintf("%s:%s", name, value))
		}
	}

	if o.UserAgent != "" {
		args = append(args, "--user-agent", o.UserAgent)
	}
	addHeader("Referer", o.Referer)
	addHeader("Origin", o.Origin)
	addHeader("Accept", o.Accept)
	addHeader("Accept-Language", o.AcceptLanguage)
	addHeader("Accept-Encoding", o.AcceptEncoding)
	addHeader("Accept-Charset", o.AcceptCharset)
	addHeader("Client-ID", o.ClientID)
	if o.KeepAlive {
		addHeader("Connection", "keep-alive")
	}
	if o.UpgradeInsecureRequests {
		addHeader("Upgrade-Insecure-Requests", "1")
	}

	if o.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", fmt.Sprintf("%d", int(o.SocketTimeout.Seconds())))
	}
	if o.Retries > 0 {
		args = append(args, "--retries", fmt.Sprintf("%d", o.Retries))
	}
	if o.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", fmt.Sprintf("%d", o.FragmentRetries))
	}
	if o.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", fmt.Sprintf("%d", o.ConcurrentFragments))
	}
	if o.HTTPChunkSize > 0 {
		args = append(args, "--http-chunk-size", fmt.Sprintf("%d", o.HTTPChunkSize))
	}
	if o.BufferSize > 0 {
		args = append(args, "--buffer-size", fmt.Sprintf("%d", o.BufferSize))
	}
	if o.GeoBypassCountry != "" {
		args = append(args, "--geo-bypass-country", o.GeoBypassCountry)
	}
	if o.SkipTLSVerify {
		args = append(args, "--no-check-certificates")
	}
	if o.SkipUnavailableFragments {
		args = append(args, "--skip-unavailable-fragments")
	}
	if o.IgnoreErrors {
		args = append(args, "--ignore-errors")
	}
	if o.ExtractorArgs != "" {
		args = append(args, "--extractor-args", o.ExtractorArgs)
	}
	if o.CookiesFile != "" {
		args = append(args, "--cookies", o.CookiesFile)
	}
	if o.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", o.FFmpegLocation)
	}
	if o.MergeOutputFormat != "" {
		args = append(args, "--merge-output-format", o.MergeOutputFormat)
	}
	if o.ExtractAudio {
		args = append(args, "--extract-audio", "--audio-format", o.AudioFormat)
		if o.AudioQuality != "" {
			args = append(args, "--audio-quality", o.AudioQuality)
		}
	}
	if o.NoPlaylist {
		args = append(args, "--no-playlist")
	}

	return args
}
