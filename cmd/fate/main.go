package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/fate/fateconf"
	"github.com/hrygo/fate/internal/obslog"
	"github.com/hrygo/fate/internal/profile"
	"github.com/hrygo/fate/internal/version"
	schederrors "github.com/hrygo/fate/sched/errors"
	"github.com/hrygo/fate/sched/events"
	"github.com/hrygo/fate/sched/logformat"
	"github.com/hrygo/fate/sched/loop"
	"github.com/hrygo/fate/sched/metrics"
	"github.com/hrygo/fate/sched/oracle"
	"github.com/hrygo/fate/sched/statedir"
	"github.com/hrygo/fate/sched/statestore/sqlite"
	"github.com/hrygo/fate/sched/taskspec"
)

// Exit codes mirror the scheduler host's own surface, per spec.md §6.
const (
	exitConfigConflict = 64
	exitConfigSyntax   = 65
	exitOK             = 0
	exitConfigMissing  = 72
	exitConfigValue    = 78
	exitTaskNotFound   = 127
)

var rootCmd = &cobra.Command{
	Use:   "fate",
	Short: "A tiered-tenancy scheduler and task execution engine.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("conf", nil, "path to a task configuration file (repeatable; default: every .yaml/.yml/.toml file under --conf-dir)")
	rootCmd.PersistentFlags().String("conf-dir", "/etc/fate", "directory scanned for configuration files when --conf is not given")
	rootCmd.PersistentFlags().String("data-dir", "/var/log/fate", "default result-file root for tasks that don't configure their own")
	rootCmd.PersistentFlags().String("state-dir", "/var/lib/fate", "root directory for per-configuration-set state")
	rootCmd.PersistentFlags().String("mode", "prod", "\"prod\" or \"dev\"; dev relaxes --conf-dir's existence check")
	rootCmd.PersistentFlags().Duration("poll-interval", 10*time.Millisecond, "how often the loop polls in-flight tasks")
	rootCmd.PersistentFlags().String("state-store-dsn", "", "optional sqlite DSN for per-task state, replacing the default flat-file layout")
	rootCmd.PersistentFlags().String("metrics-addr", "", "optional address to serve Prometheus metrics on for the duration of the run (empty disables)")

	for _, name := range []string{"conf", "conf-dir", "data-dir", "state-dir", "mode", "poll-interval", "state-store-dsn", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("fate")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(runCmd, debugCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print fate's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.StringFull())
		return nil
	},
}

// loadTasks resolves the run's profile (paths, mode, poll interval),
// decodes every --conf file (or every file discovered under --conf-dir
// if none was given) and resolves a state directory for the set,
// surfacing config-layer errors with their mapped exit code attached
// via exitCodeFor.
func loadTasks() ([]taskspec.TaskSpec, string, error) {
	p := &profile.Profile{
		Mode:         viper.GetString("mode"),
		ConfDir:      viper.GetString("conf-dir"),
		DataDir:      viper.GetString("data-dir"),
		StateDir:     viper.GetString("state-dir"),
		PollInterval: viper.GetDuration("poll-interval"),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, "", schederrors.NewConfigError(schederrors.ErrConfigValue, "", "profile", err)
	}

	confPaths := viper.GetStringSlice("conf")
	if len(confPaths) == 0 {
		discovered, err := discoverConfFiles(p.ConfDir)
		if err != nil {
			return nil, "", schederrors.NewConfigError(schederrors.ErrConfigMissing, "", "conf-dir", err)
		}
		confPaths = discovered
	}
	if len(confPaths) == 0 {
		return nil, "", schederrors.NewConfigError(schederrors.ErrConfigMissing, "", "conf", errors.New("no configuration file specified (--conf) and none found under --conf-dir"))
	}

	var tasks []taskspec.TaskSpec
	seen := make(map[string]struct{})
	for _, path := range confPaths {
		specs, err := fateconf.Load(path)
		if err != nil {
			return nil, "", err
		}
		for _, s := range specs {
			if _, dup := seen[s.Name]; dup {
				return nil, "", schederrors.NewConfigError(schederrors.ErrConfigConflict, s.Name, "name", fmt.Errorf("task %q declared in more than one configuration file", s.Name))
			}
			seen[s.Name] = struct{}{}
			if s.ResultRoot == "" {
				s.ResultRoot = p.DataDir
			}
			tasks = append(tasks, s)
		}
	}

	stateDir, err := statedir.Resolve(p.StateDir, confPaths, obslog.Default())
	if err != nil {
		return nil, "", err
	}

	return tasks, stateDir, nil
}

// discoverConfFiles lists every .yaml/.yml/.toml file directly under
// dir, in a deterministic order. A missing conf-dir yields no files
// rather than an error — dev mode may not have provisioned one yet.
func discoverConfFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".toml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// exitCodeFor maps a config-layer sentinel error to the CLI's exit
// code surface. Any other error is treated as an unexpected failure.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, schederrors.ErrConfigConflict):
		return exitConfigConflict
	case errors.Is(err, schederrors.ErrConfigSyntax):
		return exitConfigSyntax
	case errors.Is(err, schederrors.ErrConfigMissing):
		return exitConfigMissing
	case errors.Is(err, schederrors.ErrConfigValue):
		return exitConfigValue
	default:
		return 1
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "perform one check-and-drain cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, stateDir, err := loadTasks()
		if err != nil {
			logConfigError(err)
			os.Exit(exitCodeFor(err))
		}

		oc, err := oracle.New()
		if err != nil {
			return err
		}

		// os.Exit below skips deferred calls, so cleanup runs explicitly
		// on every exit path instead.
		var cleanup []func()
		runCleanup := func() {
			for _, fn := range cleanup {
				fn()
			}
		}

		var opts []loop.Option
		if dsn := viper.GetString("state-store-dsn"); dsn != "" {
			store, err := sqlite.Open(dsn)
			if err != nil {
				return fmt.Errorf("opening state store: %w", err)
			}
			cleanup = append(cleanup, func() { _ = store.Close() })
			opts = append(opts, loop.WithStateStore(store))
		}

		l := loop.New(tasks, oc, stateDir, viper.GetDuration("poll-interval"), nil, obslog.Default(), opts...)

		if addr := viper.GetString("metrics-addr"); addr != "" {
			cleanup = append(cleanup, serveMetrics(addr, l.Metrics()))
		}

		stream := l.Run()

		// The loop always drains to completion and has no cancellation
		// hook, so a termination signal mid-drain can only abandon the
		// process outright; that still beats hanging until every
		// in-flight task's own timeout eventually fires.
		shutdownOnSignal(func() {
			obslog.Default().Warn("received termination signal mid-drain, exiting without finishing the cycle")
			runCleanup()
			os.Exit(130)
		})

		sawMissingExecutable := consumeEvents(stream)

		info := stream.Result()
		fmt.Printf("completed=%d next=%s\n", info.CompletedCount, info.NextCheck.Format(time.RFC3339))

		runCleanup()
		if sawMissingExecutable {
			os.Exit(exitTaskNotFound)
		}
		os.Exit(exitOK)
		return nil
	},
}

// consumeEvents logs every event the loop emits as it runs, returning
// whether any task failed to launch for want of a resolvable executable.
func consumeEvents(stream *events.Stream) bool {
	logger := obslog.Default()
	sawMissingExecutable := false

	for ev := range stream.Events() {
		switch e := ev.(type) {
		case *events.TaskLogEvent:
			level, payload, err := e.Record()
			if err != nil {
				logger.Warn("task log record decode error", "task", e.TaskName, "err", err)
				continue
			}
			taskLogger := logger.WithField("task", e.TaskName)
			switch obslogLevel(level) {
			case obslog.LevelDebug:
				taskLogger.Debug("task log", "payload", payload)
			case obslog.LevelWarn:
				taskLogger.Warn("task log", "payload", payload)
			case obslog.LevelError:
				taskLogger.Error("task log", "payload", payload)
			default:
				taskLogger.Info("task log", "payload", payload)
			}
		case events.TaskInvocationFailureEvent:
			logger.Warn("task invocation failed", "task", e.TaskName, "err", e.Err)
			if errors.Is(e.Err, schederrors.ErrInvocation) {
				sawMissingExecutable = true
			}
		case events.TaskReadyEvent:
			logger.Info("task ready", "task", e.TaskName, "returncode", e.ReturnCode, "result", e.ResultPath)
		}
	}

	return sawMissingExecutable
}

func obslogLevel(l logformat.Level) obslog.Level {
	switch l {
	case logformat.LevelDebug:
		return obslog.LevelDebug
	case logformat.LevelWarn:
		return obslog.LevelWarn
	case logformat.LevelError:
		return obslog.LevelError
	default:
		return obslog.LevelInfo
	}
}

func logConfigError(err error) {
	fmt.Fprintln(os.Stderr, "fate: configuration error:", err)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveMetrics registers collectors with a fresh registry and serves
// them at addr for the lifetime of the run, returning a func to shut
// the listener back down. Failures to bind are logged, not fatal — a
// run's own task results matter more than its metrics exposition.
func serveMetrics(addr string, collectors *metrics.Collectors) func() {
	reg := prometheus.NewRegistry()
	collectors.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.Default().Warn("metrics server error", "addr", addr, "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// shutdownOnSignal invokes cancel once on SIGINT/SIGTERM (mirroring
// cmd/divinesense's own graceful-shutdown goroutine), so a run that's
// stuck mid-drain can still be interrupted from outside.
func shutdownOnSignal(cancel func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		cancel()
	}()
}
