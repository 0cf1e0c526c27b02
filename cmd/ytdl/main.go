package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/diorhc/YTDL/internal/config"
	"github.com/diorhc/YTDL/internal/domain"
	"github.com/diorhc/YTDL/internal/downloader"
	"github.com/diorhc/YTDL/internal/extractor"
	"github.com/diorhc/YTDL/internal/service"
	"github.com/diorhc/YTDL/internal/storage"
	"github.com/diorhc/YTDL/internal/transcoder"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var (
		qualityFlag   = flag.String("quality", "", "quality tier: best, 4k, 1440p, 1080p, 720p, 480p, 360p, 240p, 144p")
		modeFlag      = flag.String("mode", "", "acquisition mode: auto or standard")
		audioFlag     = flag.Bool("audio", false, "extract audio only (mp3)")
		langFlag      = flag.String("lang", "", "preferred audio language code, e.g. en")
		outputFlag    = flag.String("output", "", "output file name without extension (single url only)")
		trimStartFlag = flag.Float64("trim-start", -1, "trim start in seconds")
		trimEndFlag   = flag.Float64("trim-end", -1, "trim end in seconds")
		insecureFlag  = flag.Bool("insecure", false, "skip TLS certificate verification")
		dirFlag       = flag.String("dir", "", "download directory (overrides config)")
		listFlag      = flag.Bool("list-archive", false, "list archived artifacts and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] url [url ...]\n\nflags:\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 && !*listFlag {
		flag.Usage()
		os.Exit(2)
	}
	if *outputFlag != "" && len(urls) > 1 {
		logger.Fatal("-output works with a single url")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if *dirFlag != "" {
		cfg.Download.Root = *dirFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	if *listFlag {
		if storageSvc == nil {
			logger.Fatal("-list-archive requires storage.enabled and a bucket")
		}
		if err := listArchive(ctx, storageSvc, cfg); err != nil {
			logger.Fatalf("list archive: %v", err)
		}
		return
	}

	ext := extractor.NewYTDLP(cfg.Tools.Extractor, logger)
	tc := transcoder.NewFFmpeg(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, logger)

	manager := downloader.NewManager(downloader.Config{
		DownloadRoot:       cfg.Download.Root,
		MaxConcurrent:      cfg.Download.MaxConcurrent,
		ProgressInterval:   cfg.Download.ProgressInterval,
		SocketTimeout:      cfg.Download.SocketTimeout,
		Retries:            cfg.Download.Retries,
		CookiesFile:        cfg.Download.CookiesFile,
		FFmpegLocation:     tc.Location(),
		AllowInsecureRetry: cfg.Download.InsecureRetry,
		CacheTTL:           cfg.Download.CacheTTL,
		CacheMaxEntries:    cfg.Download.CacheMaxEntries,
		ArchiveBucket:      archiveBucket(cfg),
		ArchiveKeyPrefix:   cfg.Storage.KeyPrefix,
		Logger:             logger,
	}, ext, tc, storageSvc)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}

	defaultQuality, _ := domain.ParseQualityTier(cfg.Download.DefaultQuality)
	jobs := service.NewJobService(service.Config{
		MaxURLLength:   cfg.Download.MaxURLLength,
		DefaultQuality: defaultQuality,
		Logger:         logger,
	}, manager)

	printer := newProgressPrinter()
	var wg sync.WaitGroup
	var failures int
	var failMu sync.Mutex

	for _, url := range urls {
		req := service.JobRequest{
			URL:           url,
			Quality:       *qualityFlag,
			Mode:          *modeFlag,
			AudioOnly:     *audioFlag,
			AudioLanguage: *langFlag,
			OutputName:    *outputFlag,
			InsecureSSL:   *insecureFlag,
		}
		if *trimStartFlag >= 0 {
			v := *trimStartFlag
			req.TrimStart = &v
		}
		if *trimEndFlag >= 0 {
			v := *trimEndFlag
			req.TrimEnd = &v
		}

		done := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()

		var once sync.Once
		id, err := jobs.Submit(ctx, req, func(ev domain.ProgressEvent) {
			printer.render(ev)
			if ev.Status.Terminal() {
				if ev.Status != domain.StatusFinished {
					failMu.Lock()
					failures++
					failMu.Unlock()
				}
				once.Do(func() { close(done) })
			}
		})
		if err != nil {
			logger.Errorf("submit %s: %v", url, err)
			failMu.Lock()
			failures++
			failMu.Unlock()
			once.Do(func() { close(done) })
			continue
		}
		logger.WithField("job_id", id).Infof("queued %s", url)
	}

	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	manager.Shutdown(shutdownCtx)
	cancelShutdown()

	if failures > 0 {
		os.Exit(1)
	}
}

func listArchive(ctx context.Context, svc storage.Service, cfg config.Config) error {
	objects, err := svc.ListObjects(ctx, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		fmt.Printf("no artifacts under s3://%s/%s\n", cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
		return nil
	}
	for _, obj := range objects {
		fmt.Printf("%10s  %s  %s\n", fmtBytes(obj.Size), obj.LastModified.Format("2006-01-02 15:04"), obj.Key)
	}
	return nil
}

func archiveBucket(cfg config.Config) string {
	if !cfg.Storage.Enabled {
		return ""
	}
	return cfg.Storage.Bucket
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required when storage is enabled")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}

// progressPrinter serializes job events onto stdout. Multiple jobs can
// report at once, so every event prints as a whole line.
type progressPrinter struct {
	mu sync.Mutex

	stage  *color.Color
	good   *color.Color
	bad    *color.Color
	notice *color.Color
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		stage:  color.New(color.FgCyan),
		good:   color.New(color.FgGreen),
		bad:    color.New(color.FgRed),
		notice: color.New(color.FgYellow),
	}
}

func (p *progressPrinter) render(ev domain.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := shortID(ev.JobID)
	switch ev.Status {
	case domain.StatusStarting:
		p.stage.Printf("[%s] starting\n", id)
	case domain.StatusDownloading:
		if ev.TotalBytes > 0 {
			p.stage.Printf("[%s] downloading %6.2f%% (%s/%s)\n", id, ev.Percent, fmtBytes(ev.DownloadedBytes), fmtBytes(ev.TotalBytes))
		} else {
			p.stage.Printf("[%s] downloading %6.2f%%\n", id, ev.Percent)
		}
	case domain.StatusProcessing:
		p.stage.Printf("[%s] processing %s\n", id, filepath.Base(ev.Filename))
	case domain.StatusFinished:
		for _, n := range ev.Notices {
			p.notice.Printf("[%s] note: %s\n", id, n)
		}
		p.good.Printf("[%s] finished %s (%s)\n", id, ev.Filename, fmtBytes(ev.TotalBytes))
	case domain.StatusError:
		p.bad.Printf("[%s] failed: %s\n", id, ev.ErrorMessage)
	case domain.StatusCancelled:
		p.notice.Printf("[%s] cancelled\n", id)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
