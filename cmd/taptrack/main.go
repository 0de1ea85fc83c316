package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/taptrack/internal/config"
	"git.home.luguber.info/inful/taptrack/internal/device"
	"git.home.luguber.info/inful/taptrack/internal/directory"
	"git.home.luguber.info/inful/taptrack/internal/journal"
	"git.home.luguber.info/inful/taptrack/internal/metrics"
	"git.home.luguber.info/inful/taptrack/internal/mode"
	"git.home.luguber.info/inful/taptrack/internal/queue"
	"git.home.luguber.info/inful/taptrack/internal/record"
	"git.home.luguber.info/inful/taptrack/internal/remote"
	"git.home.luguber.info/inful/taptrack/internal/syncer"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"taptrack.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
	Addr    string `help:"Admin API address of a running device" default:"127.0.0.1:8750"`

	Run struct {
		DataDir string `short:"d" help:"Override the data directory"`
	} `cmd:"" help:"Run the attendance capture engine (taps read from stdin, one UID per line)"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`

	Status struct {
		Events bool `help:"Include recent device events"`
	} `cmd:"" help:"Show status of a running device"`

	Stats struct {
		Reset bool `help:"Reset sync counters"`
	} `cmd:"" help:"Show or reset sync statistics"`

	Queue struct {
		Clear bool `help:"Drop all pending records"`
	} `cmd:"" help:"Inspect or clear the pending queue"`

	Mode struct {
		Set string `arg:"" optional:"" help:"New mode (auto|force_online|force_offline)"`
	} `cmd:"" help:"Show or set the connectivity mode"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "run":
		err = runDevice(CLI.Config, CLI.Run.DataDir)
	case "init":
		err = runInit(CLI.Config, CLI.Init.Force)
	case "status":
		err = runStatus(CLI.Addr, CLI.Status.Events)
	case "stats":
		err = runStats(CLI.Addr, CLI.Stats.Reset)
	case "queue":
		err = runQueue(CLI.Addr, CLI.Queue.Clear)
	case "mode", "mode <set>":
		err = runMode(CLI.Addr, CLI.Mode.Set)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func runInit(configPath string, force bool) error {
	slog.Info("Initializing configuration", "path", configPath, "force", force)
	return config.Init(configPath, force)
}

func loadConfig(configPath string) (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Info("No configuration file, using defaults", "path", configPath)
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runDevice(configPath, dataDirOverride string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dataDirOverride != "" {
		cfg.Device.DataDir = dataDirOverride
	}
	setupLogging(cfg)

	dataDir := cfg.Device.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics
	var registry *prometheus.Registry
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Admin.MetricsEnabled {
		registry = prometheus.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	// Durable queue
	store, err := queue.NewFileStore(filepath.Join(dataDir, "queue.json"))
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	q := queue.New(store, cfg.Queue.Capacity, cfg.Queue.WarnThreshold)

	// Remote store. An offline boot is fine: the connection retries in the
	// background and taps queue locally meanwhile.
	deviceID, _ := os.Hostname()
	if deviceID == "" {
		deviceID = "taptrack"
	}
	remoteStore, err := remote.Connect(&cfg.Remote, deviceID, cfg.Sync.StreamReconnect)
	if err != nil {
		return fmt.Errorf("remote store: %w", err)
	}
	defer remoteStore.Close()

	coord := syncer.New(remoteStore, recorder)
	dir := directory.New(dataDir)

	jnl, err := journal.Open(filepath.Join(dataDir, "journal.db"))
	if err != nil {
		slog.Warn("Event journal unavailable, continuing without it", "error", err)
		jnl = nil
	} else {
		defer jnl.Close()
	}

	dev := device.New(device.Options{
		Config:      cfg,
		Queue:       q,
		Coordinator: coord,
		Policy:      mode.NewPolicy(dataDir),
		Directory:   dir,
		Journal:     jnl,
		Cards:       newLineTapSource(os.Stdin, cfg.Device.DebounceWindow),
		Clock:       systemClock{},
		Conn:        remoteStore,
		Feedback:    logFeedback{},
		Recorder:    recorder,
	})

	// Directory read path: prefetch a snapshot once the topology exists,
	// then stream changes. Fully decoupled from the attendance push path.
	go runDirectorySync(ctx, remoteStore, dir, cfg.Sync.StreamReconnect)
	go syncer.RunDirectoryFeed(ctx, remoteStore, dir)

	timers, err := device.NewTimers(dev)
	if err != nil {
		return err
	}
	if err := timers.Schedule(cfg.Sync.Interval, cfg.Sync.ConnectivityCheck); err != nil {
		return err
	}

	admin := device.NewAdminServer(dev, cfg.Admin.ListenAddr, registry)
	go func() {
		if err := admin.Start(); err != nil {
			slog.Error("Admin server failed", "error", err)
		}
	}()

	// Hot reload of runtime tunables.
	var cfgMu sync.Mutex
	activeCfg := cfg
	if _, statErr := os.Stat(configPath); statErr == nil {
		watcher, werr := config.NewWatcher(configPath,
			func() *config.Config {
				cfgMu.Lock()
				defer cfgMu.Unlock()
				return activeCfg
			},
			func(ctx context.Context, newCfg *config.Config) error {
				cfgMu.Lock()
				activeCfg = newCfg
				cfgMu.Unlock()
				return dev.ApplyConfig(ctx, newCfg)
			})
		if werr != nil {
			slog.Warn("Config watcher unavailable", "error", werr)
		} else if werr := watcher.Start(ctx); werr != nil {
			slog.Warn("Config watcher failed to start", "error", werr)
		} else {
			defer watcher.Stop()
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- dev.Run(ctx)
	}()

	slog.Info("Device running, waiting for taps")

	select {
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("device loop: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := timers.Stop(stopCtx); err != nil {
		slog.Warn("Timer shutdown failed", "error", err)
	}
	if err := admin.Stop(stopCtx); err != nil {
		slog.Warn("Admin server shutdown failed", "error", err)
	}
	slog.Info("Device stopped")
	return nil
}

// runDirectorySync brings up the remote topology and keeps the directory
// watch alive, retrying on the reconnect cadence.
func runDirectorySync(ctx context.Context, remoteStore *remote.NATSStore, dir *directory.Directory, retryWait time.Duration) {
	for {
		if err := remoteStore.EnsureTopology(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryWait):
		}
	}

	if err := syncer.PrefetchDirectory(ctx, remoteStore, dir); err != nil {
		slog.Warn("Directory prefetch failed, using persisted copy", "error", err)
	}

	for {
		err := remoteStore.WatchDirectory(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Directory watch interrupted, restarting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryWait):
		}
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// logFeedback maps tap outcomes to log lines. On real hardware this is the
// LED/buzzer driver.
type logFeedback struct{}

func (logFeedback) Notify(o device.Outcome) {
	slog.Info("Tap feedback", "outcome", string(o))
}

func runStatus(addr string, withEvents bool) error {
	client := newAdminClient(addr)

	var st device.Status
	if err := client.get("/api/status", &st); err != nil {
		return err
	}

	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Mode:      %s\n", st.Mode)
	fmt.Printf("Online:    %v\n", st.Online)
	fmt.Printf("Queue:     %d records (%d%%)\n", st.QueueSize, st.QueuePercent)
	fmt.Printf("Users:     %d registered\n", st.RegisteredUsers)
	fmt.Printf("Uptime:    %s\n", st.Uptime)
	fmt.Printf("Synced:    %d ok, %d failed\n", st.Sync.SuccessCount, st.Sync.FailCount)
	if st.Sync.LastError != "" {
		fmt.Printf("LastError: %s\n", st.Sync.LastError)
	}

	if !withEvents {
		return nil
	}
	var events struct {
		Events []journal.Entry `json:"events"`
	}
	if err := client.get("/api/events", &events); err != nil {
		return err
	}
	fmt.Println("\nRecent events:")
	for _, e := range events.Events {
		fmt.Printf("  %s  %-16s %v\n", e.Timestamp.Format(time.RFC3339), e.EventType, e.Fields)
	}
	return nil
}

func runStats(addr string, reset bool) error {
	client := newAdminClient(addr)
	if reset {
		if err := client.post("/api/stats/reset", nil, nil); err != nil {
			return err
		}
		fmt.Println("sync counters reset")
		return nil
	}
	var st syncer.Stats
	if err := client.get("/api/stats", &st); err != nil {
		return err
	}
	fmt.Printf("pending: %d  success: %d  failed: %d\n", st.PendingCount, st.SuccessCount, st.FailCount)
	if !st.LastSyncTime.IsZero() {
		fmt.Printf("last sync: %s\n", st.LastSyncTime.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Printf("last error: %s\n", st.LastError)
	}
	return nil
}

func runQueue(addr string, clear bool) error {
	client := newAdminClient(addr)
	if clear {
		var resp struct {
			Dropped int `json:"dropped"`
		}
		if err := client.post("/api/queue/clear", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("dropped %d records\n", resp.Dropped)
		return nil
	}

	var resp struct {
		Size    int                       `json:"size"`
		Records []record.AttendanceRecord `json:"records"`
	}
	if err := client.get("/api/queue", &resp); err != nil {
		return err
	}
	fmt.Printf("%d pending records\n", resp.Size)
	for i, r := range resp.Records {
		fmt.Printf("%3d. %-10s %-20s %s %s retries=%d\n",
			i+1, r.UID, r.DisplayName(), r.Timestamp, r.AttendanceStatus, r.RetryCount)
	}
	return nil
}

func runMode(addr, set string) error {
	client := newAdminClient(addr)
	if set == "" {
		var st device.Status
		if err := client.get("/api/status", &st); err != nil {
			return err
		}
		fmt.Println(st.Mode)
		return nil
	}
	var resp struct {
		Mode string `json:"mode"`
	}
	if err := client.post("/api/mode", map[string]string{"mode": set}, &resp); err != nil {
		return err
	}
	fmt.Printf("mode set to %s\n", resp.Mode)
	return nil
}
