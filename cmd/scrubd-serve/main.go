package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/scrubd/internal/config"
	"github.com/breeze-rmm/scrubd/internal/harness"
	"github.com/breeze-rmm/scrubd/internal/health"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/pipeline"
	"github.com/breeze-rmm/scrubd/internal/ports"
	wsocket "github.com/breeze-rmm/scrubd/internal/websocket"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	clipCount int
)

var log = logging.L("main")

// syntheticGOPSpanS is how often the generated clip content places a
// random-access sample; unrelated to cfg.CompressedIDRTargetGateS, which
// governs decoder behavior rather than synthetic source content.
const syntheticGOPSpanS = 1.0

// syntheticClipDurationS is how long each background synthetic clip runs
// before its forward/reverse sweep loops back to the start.
const syntheticClipDurationS = 8.0

var rootCmd = &cobra.Command{
	Use:   "scrubd-serve",
	Short: "scrubd status server",
	Long:  `scrubd-serve runs the decode pipeline against a synthetic scrub workload and exposes /status and /healthz.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the status server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the scrubd default search path)")
	runCmd.Flags().IntVar(&clipCount, "clips", 2, "number of synthetic clips to keep scrubbing in the background")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// loopingScript repeats a forward/reverse sweep over a clip's full
// duration indefinitely, so the status server always has live pipeline
// activity to report until ctx is cancelled.
func loopingScript(ctx context.Context, p *pipeline.Pipeline, clip harness.Clip) {
	step := clip.DurationS / 8
	wait := time.Duration(step * float64(time.Second))
	for {
		for t := step; t <= clip.DurationS; t += step {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			p.UpdateScrub(ctx, t, 0, ports.Forward)
		}
		for t := clip.DurationS - step; t >= 0; t -= step {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			p.UpdateScrub(ctx, t, 0, ports.Reverse)
		}
	}
}

func runServe() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	initLogging(cfg)

	var clips []harness.Clip
	for i := 0; i < clipCount; i++ {
		id := fmt.Sprintf("clip%d", i+1)
		clips = append(clips, harness.Clip{
			ID:             id,
			TrackID:        "track_" + id,
			SourceRef:      "synthetic_" + id,
			DurationS:      syntheticClipDurationS,
			FrameDurationS: cfg.FrameDurationS,
			GOPSpanS:       syntheticGOPSpanS,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	built, err := harness.BuildPipeline(ctx, cfg, clips)
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	built.Pipeline.BeginScrub(built.ClipSources)

	monitor := health.NewMonitor()
	monitor.Update("pipeline", health.Healthy, "scrub workload running")

	watchdog := time.NewTicker(100 * time.Millisecond)
	defer watchdog.Stop()
	go func() {
		for {
			select {
			case <-watchdog.C:
				built.Pipeline.CheckStall(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	hostMemCheck := time.NewTicker(5 * time.Second)
	defer hostMemCheck.Stop()
	go func() {
		for {
			select {
			case <-hostMemCheck.C:
				if err := monitor.CheckHostMemory(80, 95); err != nil {
					log.Warn("host memory check failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for _, c := range clips {
		go loopingScript(ctx, built.Pipeline, c)
	}

	hub := wsocket.NewHub()
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := hub.Broadcast(built.Metrics.Snapshot()); err != nil {
					log.Warn("failed to broadcast status snapshot", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(built.Metrics.Snapshot()); err != nil {
			log.Error("failed to encode status response", "error", err)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := monitor.Overall()
		if status != health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(monitor.Summary())
	})
	mux.Handle("/ws", hub)

	server := &http.Server{
		Addr:              cfg.StatusListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting status server", "addr", cfg.StatusListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	built.Pipeline.Close(shutdownCtx)
}
