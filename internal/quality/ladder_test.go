package quality

import (
	"reflect"
	"strings"
	"testing"

	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/platform"
)

func TestBuild_Deterministic(t *testing.T) {
	first := Build(domain.Quality720p, platform.YouTube, true, "en")
	second := Build(domain.Quality720p, platform.YouTube, true, "en")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("equal inputs produced different ladders:\n%v\n%v", first, second)
	}
}

func TestBuild_MergeFamilyLeadsWithSplitStreams(t *testing.T) {
	tests := []struct {
		tier domain.QualityTier
		want string
	}{
		{domain.QualityBest, "bestvideo[height>=1080]+bestaudio/best[height>=1080]"},
		{domain.Quality4K, "bestvideo[height>=2160]+bestaudio/best[height>=2160]"},
		{domain.Quality1440p, "bestvideo[height<=1440][height>=1080]+bestaudio/best[height<=1440][height>=1080]"},
		{domain.Quality1080p, "bestvideo[height<=1080][height>=720]+bestaudio/best[height<=1080][height>=720]"},
		{domain.Quality720p, "bestvideo[height<=720][height>=480]+bestaudio/best[height<=720][height>=480]"},
		{domain.Quality480p, "bestvideo[height<=480][height>=360]+bestaudio/best[height<=480][height>=360]"},
		{domain.Quality360p, "bestvideo[height<=360][height>=240]+bestaudio/best[height<=360][height>=240]"},
		{domain.Quality240p, "bestvideo[height<=240][height>=144]+bestaudio/best[height<=240][height>=144]"},
		{domain.Quality144p, "bestvideo[height<=144]+bestaudio/best[height<=144]"},
	}
	for _, test := range tests {
		ladder := Build(test.tier, platform.YouTube, true, "")
		if len(ladder) == 0 {
			t.Fatalf("%s: empty ladder", test.tier)
		}
		if ladder[0] != test.want {
			t.Errorf("%s: ladder[0] = %q, want %q", test.tier, ladder[0], test.want)
		}
		if ladder[len(ladder)-1] != "best" {
			t.Errorf("%s: ladder should end with the universal escape, got %q", test.tier, ladder[len(ladder)-1])
		}
	}
}

func TestBuild_MuxedFamilyNeverSplitsStreams(t *testing.T) {
	tiers := []domain.QualityTier{
		domain.QualityBest, domain.Quality4K, domain.Quality1440p,
		domain.Quality1080p, domain.Quality720p, domain.Quality480p,
		domain.Quality360p, domain.Quality240p, domain.Quality144p,
	}
	for _, tier := range tiers {
		ladder := Build(tier, platform.YouTube, false, "")
		for _, selector := range ladder {
			if strings.Contains(selector, "+") {
				t.Errorf("%s: muxed ladder contains split selector %q", tier, selector)
			}
		}
	}
}

func TestBuild_MuxedLowTiersKeepWorstEscapes(t *testing.T) {
	for _, tier := range []domain.QualityTier{domain.Quality240p, domain.Quality144p} {
		ladder := Build(tier, platform.YouTube, false, "")
		var hasWorst bool
		for _, selector := range ladder {
			if strings.HasPrefix(selector, "worst") {
				hasWorst = true
				break
			}
		}
		if !hasWorst {
			t.Errorf("%s: muxed ladder should include a worst escape", tier)
		}
	}
}

func TestBuild_DzenOverridesBothFamilies(t *testing.T) {
	withMerge := Build(domain.Quality720p, platform.Dzen, true, "")
	withoutMerge := Build(domain.Quality720p, platform.Dzen, false, "")
	if !reflect.DeepEqual(withMerge, withoutMerge) {
		t.Fatal("dzen ladder should not depend on merge capability")
	}
	if withMerge[0] != "best[height<=720][ext=mp4]" {
		t.Fatalf("dzen 720p ladder[0] = %q, want combined mp4 selector", withMerge[0])
	}
}

func TestBuild_DzenUnlistedTierUsesBestLadder(t *testing.T) {
	got := Build(domain.Quality240p, platform.Dzen, true, "")
	want := Build(domain.QualityBest, platform.Dzen, true, "")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dzen 240p = %v, want the best ladder %v", got, want)
	}
}

func TestBuild_TwitchCollapsesToCombined(t *testing.T) {
	got := Build(domain.Quality1080p, platform.Twitch, true, "")
	want := Ladder{"best[ext=mp4]/best", "best"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("twitch ladder = %v, want %v", got, want)
	}
}

func TestBuild_UnknownTierFallsBackToDefaults(t *testing.T) {
	merge := Build(domain.QualityTier("900p"), platform.YouTube, true, "")
	if merge[0] != "bestvideo[height>=720]+bestaudio/best[height>=720]" {
		t.Errorf("unknown tier merge ladder[0] = %q", merge[0])
	}
	muxed := Build(domain.QualityTier("900p"), platform.YouTube, false, "")
	if muxed[0] != "best[height>=720][vcodec!*=none][acodec!*=none]" {
		t.Errorf("unknown tier muxed ladder[0] = %q", muxed[0])
	}
}

func TestWeaveLanguage(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		lang     string
		want     string
	}{
		{
			"merge selector filters the audio leg",
			"bestvideo[height<=720]+bestaudio/best[height<=720]",
			"en",
			"bestvideo[height<=720]+bestaudio[language=en]/bestvideo[height<=720]+bestaudio/best[height<=720]",
		},
		{
			"combined selector filters the whole expression",
			"best[height<=720]",
			"ru",
			"best[height<=720][language=ru]/best[height<=720]",
		},
		{
			"multiple plus signs left untouched",
			"a+b+c",
			"en",
			"a+b+c",
		},
	}
	for _, test := range tests {
		if got := weaveLanguage(test.selector, test.lang); got != test.want {
			t.Errorf("%s:\n got %q\nwant %q", test.name, got, test.want)
		}
	}
}

func TestBuild_LanguageWeavesEveryEntry(t *testing.T) {
	ladder := Build(domain.Quality720p, platform.YouTube, true, "en")
	for i, selector := range ladder {
		if !strings.Contains(selector, "[language=en]") {
			t.Errorf("entry %d has no language preference: %q", i, selector)
		}
		// The unmodified selector must survive as fallback so a missing
		// track cannot fail the entry.
		if !strings.Contains(selector, "/") {
			t.Errorf("entry %d lost its fallback: %q", i, selector)
		}
	}
}

func TestAudioLadder(t *testing.T) {
	got := AudioLadder()
	want := Ladder{"bestaudio/best"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AudioLadder() = %v, want %v", got, want)
	}
}

func TestTargetHeight(t *testing.T) {
	tests := []struct {
		tier domain.QualityTier
		want int
	}{
		{domain.QualityBest, 2160},
		{domain.Quality4K, 2160},
		{domain.Quality1440p, 1440},
		{domain.Quality1080p, 1080},
		{domain.Quality720p, 720},
		{domain.Quality480p, 480},
		{domain.Quality360p, 360},
		{domain.QualityTier("unmapped"), 1080},
	}
	for _, test := range tests {
		if got := TargetHeight(test.tier); got != test.want {
			t.Errorf("TargetHeight(%s) = %d, want %d", test.tier, got, test.want)
		}
	}
}
