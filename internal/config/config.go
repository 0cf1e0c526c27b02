package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Log struct {
		Level string
	}
	Download struct {
		Root             string
		MaxConcurrent    int
		DefaultQuality   string
		MaxURLLength     int
		ProgressInterval time.Duration
		SocketTimeout    time.Duration
		Retries          int
		InsecureRetry    bool
		CacheTTL         time.Duration
		CacheMaxEntries  int
		CookiesFile      string
	}
	Tools struct {
		Extractor string
		FFmpeg    string
		FFprobe   string
	}
	Storage struct {
		Enabled   bool
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("YTDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("download.root", "downloads")
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("download.defaultquality", "best")
	v.SetDefault("download.maxurllength", 4096)
	v.SetDefault("download.progressinterval", "500ms")
	v.SetDefault("download.sockettimeout", "30s")
	v.SetDefault("download.retries", 3)
	v.SetDefault("download.insecureretry", true)
	v.SetDefault("download.cachettl", "300s")
	v.SetDefault("download.cachemaxentries", 100)
	v.SetDefault("download.cookiesfile", "")
	v.SetDefault("tools.extractor", "yt-dlp")
	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.ffprobe", "ffprobe")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "ytdl-jobs")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
