// Package main provides the CLI entrypoint for signdrill.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/signdrill/internal/app"
	"github.com/verte-zerg/signdrill/internal/capture"
	"github.com/verte-zerg/signdrill/internal/config"
	"github.com/verte-zerg/signdrill/internal/generator"
	"github.com/verte-zerg/signdrill/internal/loader"
	"github.com/verte-zerg/signdrill/internal/logging"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
	"github.com/verte-zerg/signdrill/internal/scheduler"
	"github.com/verte-zerg/signdrill/internal/server"
	"github.com/verte-zerg/signdrill/internal/session"
	"github.com/verte-zerg/signdrill/internal/sink"
	"github.com/verte-zerg/signdrill/internal/stats"
	"github.com/verte-zerg/signdrill/internal/statsui"
	"github.com/verte-zerg/signdrill/internal/store"
	"github.com/verte-zerg/signdrill/internal/tui"
)

const (
	defaultUsername      = "guest"
	defaultWeakTop       = 5
	defaultWeakFactor    = 2.0
	defaultWeakWindow    = 20
	defaultCurveWindow   = 20
	defaultWidth         = 640
	defaultHeight        = 480
	defaultFPS           = 15
	defaultAddr          = ":8090"
	defaultLogLevel      = "info"
	defaultModelTimeout  = loader.DefaultTimeout
	defaultSessionLength = session.DefaultDuration
)

var (
	logLevel string

	practiceUsername    string
	practiceDuration    time.Duration
	practiceThrottle    time.Duration
	practicePoll        time.Duration
	practiceFlushOnStop bool
	practiceFocusWeak   bool
	practiceWeakTop     int
	practiceWeakFactor  float64
	practiceWeakWindow  int
	practiceSeed        int64

	modelPath          string
	modelTimeout       time.Duration
	modelMinConfidence float64
	modelCacheDir      string

	captureSource      string
	captureDevice      string
	captureInputFormat string
	captureWidth       int
	captureHeight      int
	captureFPS         int
	captureDir         string

	predictorBackend       string
	predictorRemoteURL     string
	predictorRemoteTimeout time.Duration

	sinkBackend   string
	sinkDSN       string
	sinkRedisAddr string
	sinkRedisKey  string

	statsUser        string
	statsSign        string
	statsSince       string
	statsLast        int
	statsCurveWindow int

	fetchFrom string

	serveAddr     string
	servePractice bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "signdrill",
		Short:         "Camera sign language practice trainer",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runPracticeCmd,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	addPracticeFlags(rootCmd)
	addModelFlags(rootCmd)
	addCaptureFlags(rootCmd)
	addPredictorFlags(rootCmd)
	addSinkFlags(rootCmd)

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newModelCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func addPracticeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&practiceUsername, "user", defaultUsername, "username recorded with each session")
	cmd.Flags().DurationVar(&practiceDuration, "duration", defaultSessionLength, "session length")
	cmd.Flags().DurationVar(&practiceThrottle, "throttle", scheduler.DefaultInterval, "minimum gap between predictions")
	cmd.Flags().DurationVar(&practicePoll, "poll", scheduler.DefaultPoll, "frame polling interval")
	cmd.Flags().BoolVar(&practiceFlushOnStop, "flush-on-stop", false, "save a session stopped before its timer ends")
	cmd.Flags().BoolVar(&practiceFocusWeak, "focus-weak", false, "bias prompts toward weak signs")
	cmd.Flags().IntVar(&practiceWeakTop, "weak-top", defaultWeakTop, "number of weak signs to focus on")
	cmd.Flags().Float64Var(&practiceWeakFactor, "weak-factor", defaultWeakFactor, "weight factor for weak signs")
	cmd.Flags().IntVar(&practiceWeakWindow, "weak-window", defaultWeakWindow, "number of recent sessions to compute weak signs")
	cmd.Flags().Int64Var(&practiceSeed, "seed", 0, "prompt generator seed (0 picks one)")
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&modelPath, "model", "", "model descriptor path or URL (default: cached model)")
	cmd.Flags().DurationVar(&modelTimeout, "model-timeout", defaultModelTimeout, "model load timeout")
	cmd.Flags().Float64Var(&modelMinConfidence, "min-confidence", 0, "override the model confidence floor (0-1)")
	cmd.Flags().StringVar(&modelCacheDir, "model-cache", "", "model cache directory")
}

func addCaptureFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&captureSource, "source", capture.KindCamera, "frame source (camera, dir)")
	cmd.Flags().StringVar(&captureDevice, "device", "", "camera device (default depends on OS)")
	cmd.Flags().StringVar(&captureInputFormat, "input-format", "", "ffmpeg input format")
	cmd.Flags().IntVar(&captureWidth, "width", defaultWidth, "capture width")
	cmd.Flags().IntVar(&captureHeight, "height", defaultHeight, "capture height")
	cmd.Flags().IntVar(&captureFPS, "fps", defaultFPS, "capture frames per second")
	cmd.Flags().StringVar(&captureDir, "frames-dir", "", "directory of images replayed by the dir source")
}

func addPredictorFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&predictorBackend, "backend", predictor.BackendLocal, "inference backend (local, remote)")
	cmd.Flags().StringVar(&predictorRemoteURL, "remote-url", "", "prediction service URL for the remote backend")
	cmd.Flags().DurationVar(&predictorRemoteTimeout, "remote-timeout", 0, "remote request timeout (0 disables)")
}

func addSinkFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sinkBackend, "sink", sink.BackendSQLite, "result sink (sqlite, postgres, redis)")
	cmd.Flags().StringVar(&sinkDSN, "dsn", "", "SQLite path or Postgres DSN")
	cmd.Flags().StringVar(&sinkRedisAddr, "redis-addr", "", "redis address for the redis sink")
	cmd.Flags().StringVar(&sinkRedisKey, "redis-key", sink.DefaultRedisKey, "redis key prefix")
}

// loadSettings merges .env, the config file and flags into the package flag values.
func loadSettings(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p := fileCfg.Practice
	applyStringConfig(cmd, "user", &practiceUsername, p.Username)
	applyDurationConfig(cmd, "duration", &practiceDuration, p.Duration)
	applyDurationConfig(cmd, "throttle", &practiceThrottle, p.Throttle)
	applyDurationConfig(cmd, "poll", &practicePoll, p.Poll)
	applyBoolConfig(cmd, "flush-on-stop", &practiceFlushOnStop, p.FlushOnStop)
	applyBoolConfig(cmd, "focus-weak", &practiceFocusWeak, p.FocusWeak)
	applyIntConfig(cmd, "weak-top", &practiceWeakTop, p.WeakTop)
	applyFloatConfig(cmd, "weak-factor", &practiceWeakFactor, p.WeakFactor)
	applyIntConfig(cmd, "weak-window", &practiceWeakWindow, p.WeakWindow)
	if p.Seed != nil && !cmd.Flags().Changed("seed") {
		practiceSeed = *p.Seed
	}

	m := fileCfg.Model
	applyStringConfig(cmd, "model", &modelPath, m.Path)
	applyDurationConfig(cmd, "model-timeout", &modelTimeout, m.Timeout)
	applyFloatConfig(cmd, "min-confidence", &modelMinConfidence, m.MinConfidence)
	applyStringConfig(cmd, "model-cache", &modelCacheDir, m.CacheDir)

	c := fileCfg.Capture
	applyStringConfig(cmd, "source", &captureSource, c.Source)
	applyStringConfig(cmd, "device", &captureDevice, c.Device)
	applyStringConfig(cmd, "input-format", &captureInputFormat, c.InputFormat)
	applyIntConfig(cmd, "width", &captureWidth, c.Width)
	applyIntConfig(cmd, "height", &captureHeight, c.Height)
	applyIntConfig(cmd, "fps", &captureFPS, c.FPS)
	applyStringConfig(cmd, "frames-dir", &captureDir, c.Dir)

	pr := fileCfg.Predictor
	applyStringConfig(cmd, "backend", &predictorBackend, pr.Backend)
	applyStringConfig(cmd, "remote-url", &predictorRemoteURL, pr.RemoteURL)
	applyDurationConfig(cmd, "remote-timeout", &predictorRemoteTimeout, pr.RemoteTimeout)

	s := fileCfg.Sink
	applyStringConfig(cmd, "sink", &sinkBackend, s.Backend)
	applyStringConfig(cmd, "dsn", &sinkDSN, s.DSN)
	applyStringConfig(cmd, "redis-addr", &sinkRedisAddr, s.RedisAddr)
	applyStringConfig(cmd, "redis-key", &sinkRedisKey, s.RedisKey)

	if predictorRemoteURL == "" {
		predictorRemoteURL = config.Env(config.EnvRemoteURL, "")
	}
	if sinkRedisAddr == "" {
		sinkRedisAddr = config.Env(config.EnvRedisAddr, "")
	}
	switch sinkBackend {
	case sink.BackendPostgres:
		if sinkDSN == "" {
			sinkDSN = config.Env(config.EnvPostgresDSN, "")
		}
	case "", sink.BackendSQLite:
		if sinkDSN == "" {
			sinkDSN = config.DefaultDBPath()
		}
	}
	if modelCacheDir == "" {
		modelCacheDir = config.DefaultModelCacheDir()
	}
	if modelPath == "" {
		modelPath = filepath.Join(modelCacheDir, loader.DescriptorFile)
	}
	return nil
}

func practiceConfig() model.Config {
	return model.Config{
		Username:    practiceUsername,
		Duration:    practiceDuration,
		Throttle:    practiceThrottle,
		Poll:        practicePoll,
		FlushOnStop: practiceFlushOnStop,
		FocusWeak:   practiceFocusWeak,
		WeakTop:     practiceWeakTop,
		WeakFactor:  practiceWeakFactor,
		WeakWindow:  practiceWeakWindow,
		Seed:        practiceSeed,
	}
}

func runPracticeCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	cfg := practiceConfig()
	if err := validateConfig(cfg); err != nil {
		return err
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.File(config.DefaultLogPath(), level)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		if cerr := closeLog(); cerr != nil {
			logErrf("failed to close log file: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	out, err := openSink(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.sink.Close(); cerr != nil {
			logErrf("failed to close sink: %v\n", cerr)
		}
	}()

	source, err := newSource(logger)
	if err != nil {
		return err
	}
	ldr := newLoader(logger)
	defer ldr.Close()
	backend, err := predictor.New(predictor.Options{
		Backend: predictorBackend,
		Loader:  ldr,
		Remote: predictor.RemoteOptions{
			URL:     predictorRemoteURL,
			Timeout: predictorRemoteTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	pipeline, err := newPipeline(cfg, source, backend, out, logger)
	if err != nil {
		return err
	}
	var history tui.History
	if out.store != nil {
		history = out.store
	}
	ui := tui.NewModel(pipeline, history, cfg.Username, logger)
	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := pipeline.Close(); cerr != nil {
			logger.Warn("failed to stop pipeline", "err", cerr)
		}
	}()

	program := tea.NewProgram(ui, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// openedSink is the configured sink plus the SQLite store behind it, when there is one.
type openedSink struct {
	sink  sink.Sink
	store *store.Store
}

func openSink(ctx context.Context, logger *slog.Logger) (openedSink, error) {
	if sinkBackend == "" || sinkBackend == sink.BackendSQLite {
		st, err := store.Open(sinkDSN)
		if err != nil {
			return openedSink{}, fmt.Errorf("failed to open db: %w", err)
		}
		return openedSink{sink: sink.NewValidated(st, logger), store: st}, nil
	}
	s, err := sink.Open(ctx, sink.Config{
		Backend:   sinkBackend,
		DSN:       sinkDSN,
		RedisAddr: sinkRedisAddr,
		RedisKey:  sinkRedisKey,
		Logger:    logger,
	})
	if err != nil {
		return openedSink{}, fmt.Errorf("failed to open %s sink: %w", sinkBackend, err)
	}
	return openedSink{sink: s}, nil
}

func newSource(logger *slog.Logger) (capture.Source, error) {
	return capture.New(capture.Options{
		Kind:        captureSource,
		Device:      captureDevice,
		InputFormat: captureInputFormat,
		Width:       captureWidth,
		Height:      captureHeight,
		FPS:         captureFPS,
		Dir:         captureDir,
		Logger:      logger,
	})
}

func newLoader(logger *slog.Logger) *loader.Loader {
	return loader.New(loader.Options{
		Ref:           modelPath,
		Timeout:       modelTimeout,
		MinConfidence: modelMinConfidence,
		Logger:        logger,
	})
}

func newPipeline(cfg model.Config, source capture.Source, backend predictor.Backend, out openedSink, logger *slog.Logger) (*app.Pipeline, error) {
	gen := generator.New()
	if cfg.Seed != 0 {
		gen = generator.NewSeeded(cfg.Seed)
	}
	opts := app.Options{
		Config:    cfg,
		Source:    source,
		Backend:   backend,
		Sink:      out.sink,
		Generator: gen,
		Logger:    logger,
	}
	if out.store != nil {
		opts.Weak = out.store
	} else if cfg.FocusWeak {
		logger.Warn("weak-sign focus needs the sqlite sink; using uniform prompts", "sink", sinkBackend)
	}
	return app.New(opts)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func addStatsFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&statsUser, "user", "", "username filter")
	cmd.Flags().StringVar(&statsSign, "sign", "", "sign filter (A-Z)")
	cmd.Flags().StringVar(&statsSince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&statsLast, "last", 0, "limit to last N sessions")
	cmd.Flags().IntVar(&statsCurveWindow, "curve-window", defaultCurveWindow, "moving average window")
}

func statsConfig() (model.StatsConfig, error) {
	var sinceTime *time.Time
	if statsSince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", statsSince, time.Local)
		if err != nil {
			return model.StatsConfig{}, fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}
	sign := ""
	if statsSign != "" {
		label, ok := model.ParseLabel(statsSign)
		if !ok {
			return model.StatsConfig{}, fmt.Errorf("--sign must be a single letter A-Z")
		}
		sign = string(label)
	}
	if statsLast < 0 {
		return model.StatsConfig{}, fmt.Errorf("--last must be >= 0")
	}
	if statsCurveWindow <= 0 {
		return model.StatsConfig{}, fmt.Errorf("--curve-window must be > 0")
	}
	return model.StatsConfig{
		Username:    statsUser,
		Sign:        sign,
		Since:       sinceTime,
		Last:        statsLast,
		CurveWindow: statsCurveWindow,
	}, nil
}

// openStatsStore opens the SQLite store that stats are read from.
func openStatsStore(cmd *cobra.Command) (*store.Store, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	path := config.DefaultDBPath()
	s := fileCfg.Sink
	if s.DSN != nil && (s.Backend == nil || *s.Backend == sink.BackendSQLite) {
		path = *s.DSN
	}
	if statsUser == "" && fileCfg.Practice.Username != nil && cmd.Name() == "history" {
		statsUser = *fileCfg.Practice.Username
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, nil
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stats",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	addStatsFilterFlags(cmd)
	return cmd
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	st, err := openStatsStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	cfg, err := statsConfig()
	if err != nil {
		return err
	}

	ui := statsui.NewModel(st, cfg)
	program := tea.NewProgram(ui, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run stats TUI: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a plain-text practice summary",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	addStatsFilterFlags(cmd)
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	st, err := openStatsStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	cfg, err := statsConfig()
	if err != nil {
		return err
	}

	report, err := stats.BuildReport(cmd.Context(), st, cfg)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	w := cmd.OutOrStdout()
	if err := stats.RenderSummary(w, report.Sessions); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if len(report.SignAggsAll) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := stats.RenderSignTable(w, report.SignAggsAll); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage model assets",
	}
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Download the model into the local cache",
		Args:  cobra.NoArgs,
		RunE:  runModelFetchCmd,
	}
	fetch.Flags().StringVar(&fetchFrom, "from", "", "descriptor URL or path to download")
	addModelFlags(fetch)
	check := &cobra.Command{
		Use:   "check",
		Short: "Load the model and print its metadata",
		Args:  cobra.NoArgs,
		RunE:  runModelCheckCmd,
	}
	addModelFlags(check)
	cmd.AddCommand(fetch, check)
	return cmd
}

func runModelFetchCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	ref := strings.TrimSpace(fetchFrom)
	if ref == "" {
		return fmt.Errorf("--from must not be empty")
	}
	logErrf("Fetching %s...\n", ref)
	dl, err := loader.DownloadModel(cmd.Context(), loader.NewFetcher(nil), ref, modelCacheDir)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}
	logErrf("Wrote %s (%d shards, %d cached)\n", dl.DescriptorPath, len(dl.Shards), dl.Cached)
	return nil
}

func runModelCheckCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	ldr := newLoader(slog.Default())
	defer ldr.Close()
	h, err := ldr.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load model from %s: %w", modelPath, err)
	}
	width, height, channels := h.Descriptor.Input()
	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"Model:          %s\nFormat:         %s\nInput:          %dx%dx%d\nLabels:         %s\nMin confidence: %.2f\nWeights:        %d bytes\n",
		modelPath, h.Descriptor.Format, width, height, channels, h.Labels, h.MinConfidence, h.Bytes)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP prediction service",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", defaultAddr, "listen address")
	cmd.Flags().BoolVar(&servePractice, "practice", false, "run a practice pipeline and stream it on /ws")
	addModelFlags(cmd)
	addPracticeFlags(cmd)
	addCaptureFlags(cmd)
	addSinkFlags(cmd)
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.Stderr(level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ldr := newLoader(logger)
	defer ldr.Close()
	opts := server.Options{Loader: ldr, Logger: logger}

	if servePractice {
		cfg := practiceConfig()
		if err := validateConfig(cfg); err != nil {
			return err
		}
		out, err := openSink(ctx, logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := out.sink.Close(); cerr != nil {
				logger.Warn("failed to close sink", "err", cerr)
			}
		}()
		source, err := newSource(logger)
		if err != nil {
			return err
		}
		pipeline, err := newPipeline(cfg, source, predictor.NewWorker(ldr, logger), out, logger)
		if err != nil {
			return err
		}
		opts.Practice = pipeline
		srv := server.New(opts)
		if err := pipeline.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if cerr := pipeline.Close(); cerr != nil {
				logger.Warn("failed to stop pipeline", "err", cerr)
			}
		}()
		return serve(ctx, srv, logger)
	}
	return serve(ctx, server.New(opts), logger)
}

func serve(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	go func() {
		if err := srv.LoadModel(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("model load failed", "path", modelPath, "err", err)
		}
	}()
	return srv.ListenAndServe(ctx, serveAddr)
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *config.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Lookup(name) == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = value.Duration
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# signdrill configuration
# Uncomment a value to enable it. CLI flags override config values.
# SIGNDRILL_POSTGRES_DSN, SIGNDRILL_REDIS_ADDR and SIGNDRILL_REMOTE_URL are read
# from the environment or .env when neither a flag nor this file sets them.

[practice]
# username = %q         # Recorded with each session
# duration = %q          # Session length
# throttle = %q        # Minimum gap between predictions
# poll = %q            # Frame polling interval
# flush-on-stop = false    # Save sessions stopped early
# focus-weak = false       # Bias prompts toward weak signs
# weak-top = %d             # Number of weak signs to focus on
# weak-factor = %.1f        # Weight factor for weak signs
# weak-window = %d         # Number of recent sessions to compute weak signs
# seed = 0                 # Prompt generator seed (0 picks one)

[model]
# path = "model.json"      # Descriptor path or URL (default: cached model)
# timeout = %q           # Model load timeout
# min-confidence = %.2f    # Confidence floor override (0-1)
# cache-dir = ""           # Model cache directory

[capture]
# source = %q        # camera or dir
# device = ""              # Camera device
# input-format = ""        # ffmpeg input format
# width = %d
# height = %d
# fps = %d
# dir = ""                 # Images replayed by the dir source

[predictor]
# backend = %q        # local or remote
# remote-url = "http://localhost%s/predict"
# remote-timeout = "0s"

[sink]
# backend = %q       # sqlite, postgres or redis
# dsn = ""                 # SQLite path or Postgres DSN
# redis-addr = "localhost:6379"
# redis-key = %q
`,
		defaultUsername,
		defaultSessionLength.String(),
		scheduler.DefaultInterval.String(),
		scheduler.DefaultPoll.String(),
		defaultWeakTop,
		defaultWeakFactor,
		defaultWeakWindow,
		defaultModelTimeout.String(),
		loader.DefaultMinConfidence,
		capture.KindCamera,
		defaultWidth,
		defaultHeight,
		defaultFPS,
		predictor.BackendLocal,
		defaultAddr,
		sink.BackendSQLite,
		sink.DefaultRedisKey,
	)
}

func validateConfig(cfg model.Config) error {
	if strings.TrimSpace(cfg.Username) == "" {
		return fmt.Errorf("--user must not be empty")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if cfg.Throttle <= 0 {
		return fmt.Errorf("--throttle must be > 0")
	}
	if cfg.Poll <= 0 {
		return fmt.Errorf("--poll must be > 0")
	}
	if cfg.WeakTop < 0 {
		return fmt.Errorf("--weak-top must be >= 0")
	}
	if cfg.WeakFactor < 0 {
		return fmt.Errorf("--weak-factor must be >= 0")
	}
	if cfg.WeakWindow < 0 {
		return fmt.Errorf("--weak-window must be >= 0")
	}
	if modelMinConfidence < 0 || modelMinConfidence > 1 {
		return fmt.Errorf("--min-confidence must be between 0 and 1")
	}
	if captureFPS <= 0 {
		return fmt.Errorf("--fps must be > 0")
	}
	if captureWidth <= 0 || captureHeight <= 0 {
		return fmt.Errorf("--width and --height must be > 0")
	}
	if predictorBackend == predictor.BackendRemote && predictorRemoteURL == "" {
		return fmt.Errorf("--remote-url must be set for the remote backend")
	}
	return nil
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
