package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"hsdl/auth"
	"hsdl/config"
	"hsdl/download"
	"hsdl/headspace"
	hshttp "hsdl/http"
	"hsdl/internal/logger"
	"hsdl/internal/metrics"
	"hsdl/internal/retry"
	"hsdl/internal/storage"
)

const dateLayout = "2006-01-02"

// runtime bundles what every downloading command needs.
type runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics.Recorder
	client   *hshttp.Client
	lock     *storage.FileLock
	pipeline *download.Pipeline
}

func (rt *runtime) close() {
	rt.client.Close()
	rt.lock.Unlock()
	if rt.cfg.MetricsFile != "" {
		if err := rt.metrics.WriteFile(rt.cfg.MetricsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing metrics: %v\n", err)
		}
	}
	_ = rt.log.Sync()
}

func withPipeline(fn func(rt *runtime, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.close()

		started := time.Now()
		err = fn(rt, c)
		summary := rt.pipeline.Summary()
		fmt.Fprintf(os.Stderr, "\n%s in %s\n", summary, time.Since(started).Round(time.Second))
		rt.log.Info("run finished",
			zap.Int("downloaded", summary.Downloaded),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Int("unavailable", summary.Unavailable),
			zap.Int64("bytes", summary.Bytes),
			zap.Error(err),
		)

		if errors.Is(err, hshttp.ErrUnauthorized) || errors.Is(err, auth.ErrNoToken) {
			return fmt.Errorf("%w\nrun `hsdl login` or paste a bearer token into %s", err, rt.cfg.TokenFile)
		}
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return cli.Exit(fmt.Sprintf("%d downloads failed", summary.Failed), 1)
		}
		return nil
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.IsSet("duration") {
		cfg.Durations = c.IntSlice("duration")
	}
	if c.IsSet("out") {
		cfg.OutputDir = c.String("out")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Verbose: c.Bool("verbose"),
	})
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("run_id", uuid.NewString()), zap.String("command", c.Command.Name)), nil
}

func httpConfig(cfg *config.Config, token string, log *zap.Logger, rec *metrics.Recorder) *hshttp.Config {
	if log == nil {
		log = zap.NewNop()
	}
	httpCfg := hshttp.DefaultConfig()
	httpCfg.Timeout = cfg.RequestTimeout
	httpCfg.Retry = retry.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.BackoffMultiplier,
		JitterFraction: httpCfg.Retry.JitterFraction,
		Notify: func(attempt int, err error, wait time.Duration) {
			log.Warn("retrying request", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		},
	}
	httpCfg.RateLimiter.RequestsPerSecond = cfg.RequestsPerSecond
	httpCfg.CircuitBreaker.FailureThreshold = cfg.MaxConsecutiveFailures
	httpCfg.Token = token
	httpCfg.Language = cfg.Language
	if cfg.UserAgent != "" {
		httpCfg.UserAgent = cfg.UserAgent
	}
	httpCfg.Logger = log
	httpCfg.Metrics = rec
	return httpCfg
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(c, cfg)
	if err != nil {
		return nil, err
	}

	token, err := auth.NewFileTokenStore(cfg.TokenFile).Load()
	if err != nil {
		return nil, fmt.Errorf("%w\nrun `hsdl login` or paste a bearer token into %s", err, cfg.TokenFile)
	}
	userID, err := auth.UserID(token)
	if err != nil {
		log.Warn("no user id in token", zap.Error(err))
	}

	lock, err := outputLock(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		return nil, fmt.Errorf("another hsdl run is writing to %q: %w", cfg.OutputDir, err)
	}
	log.Debug("output locked", zap.String("lock", lock.Path()))

	rec := metrics.New()
	client := hshttp.New(httpConfig(cfg, token, log, rec))
	api := headspace.NewClient(client, headspace.Config{BaseURL: cfg.APIBaseURL, UserID: userID})

	log.Info("starting",
		zap.String("output_dir", cfg.OutputDir),
		zap.Ints("durations", cfg.Durations),
		zap.String("language", cfg.Language),
	)

	return &runtime{
		cfg:     cfg,
		log:     log,
		metrics: rec,
		client:  client,
		lock:    lock,
		pipeline: download.New(download.Config{
			API: api,
			Fetcher: download.NewFetcher(client, download.FetcherConfig{
				Progress: os.Stderr,
				Status:   os.Stderr,
				Logger:   log,
				Metrics:  rec,
			}),
			Paths:     &download.PathResolver{Root: cfg.OutputDir, SlugNames: cfg.SlugNames},
			Durations: cfg.Durations,
			Status:    os.Stderr,
			Logger:    log,
			Metrics:   rec,
		}),
	}, nil
}

// outputLock returns the lock guarding one output root. It lives in the user
// cache dir so that locking never creates the root itself.
func outputLock(root string) (*storage.FileLock, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("locate cache dir: %w", err)
	}
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String() + ".lock"
	return storage.NewFileLock(filepath.Join(cache, "hsdl", "locks", name)), nil
}

func cmdPack(rt *runtime, c *cli.Context) error {
	opts := download.PackOptions{
		NoMeditation: c.Bool("no-meditation"),
		NoTechniques: c.Bool("no-techniques"),
	}

	switch {
	case c.Bool("all"):
		var exclude []int
		if path := c.String("exclude"); path != "" {
			ids, err := readExcludeFile(path)
			if err != nil {
				return err
			}
			exclude = ids
		}
		return rt.pipeline.AllPacks(c.Context, exclude, opts)
	case c.IsSet("id"):
		return rt.pipeline.PackByContentID(c.Context, c.Int("id"), opts)
	case c.Args().Len() > 0:
		id, ok := headspace.ParsePackURL(c.Args().First())
		if !ok {
			return fmt.Errorf("not a pack url: %s", c.Args().First())
		}
		return rt.pipeline.PackByContentID(c.Context, id, opts)
	default:
		return cli.Exit("pack needs a url, --id or --all", 2)
	}
}

func readExcludeFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclude file: %w", err)
	}
	defer f.Close()

	ids, unparsed, err := headspace.ParseExcludeList(f)
	if err != nil {
		return nil, fmt.Errorf("read exclude file: %w", err)
	}
	for _, line := range unparsed {
		fmt.Fprintf(os.Stderr, "Ignoring exclude entry %q\n", line)
	}
	return ids, nil
}

func cmdDownload(rt *runtime, c *cli.Context) error {
	raw := c.Args().First()
	if raw == "" {
		return cli.Exit("download needs a player url", 2)
	}
	ref, ok := headspace.ParsePlayerURL(raw)
	if !ok {
		return fmt.Errorf("not a player url: %s", raw)
	}
	return rt.pipeline.PlayerItem(c.Context, ref)
}

func cmdEveryday(rt *runtime, c *cli.Context) error {
	from, to, err := dateRange(c.String("from"), c.String("to"), time.Now())
	if err != nil {
		return err
	}
	return rt.pipeline.Everyday(c.Context, from, to)
}

// dateRange parses --from and --to, both defaulting to today.
func dateRange(fromArg, toArg string, now time.Time) (time.Time, time.Time, error) {
	today, _ := time.Parse(dateLayout, now.Format(dateLayout))
	from, to := today, today

	var err error
	if fromArg != "" {
		if from, err = time.Parse(dateLayout, fromArg); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if toArg != "" {
		if to, err = time.Parse(dateLayout, toArg); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", toArg, fromArg)
	}
	return from, to, nil
}

func cmdLogin(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	email, password, err := promptCredentials()
	if err != nil {
		return err
	}

	client, err := hshttp.NewSession(httpConfig(cfg, "", log, nil))
	if err != nil {
		return err
	}
	defer client.Close()

	token, err := auth.NewAuthenticator(client, log).Login(c.Context, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store := auth.NewFileTokenStore(cfg.TokenFile)
	if err := store.Save(token); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Logged in. Token saved to %s\n", store.Path())
	return nil
}

func promptCredentials() (string, string, error) {
	fmt.Fprint(os.Stderr, "Email: ")
	email, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("read email: %w", err)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(email), string(password), nil
}

func cmdFile(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Println(cfg.TokenFile)
	return nil
}
