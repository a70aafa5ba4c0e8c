package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/breeze-rmm/scrubd/internal/config"
	"github.com/breeze-rmm/scrubd/internal/harness"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	durationS float64
	clipCount int
	speedup   float64
)

var log = logging.L("main")

// syntheticGOPSpanS is how often the generated clip content places a
// random-access sample; unrelated to cfg.CompressedIDRTargetGateS, which
// governs decoder behavior rather than synthetic source content.
const syntheticGOPSpanS = 1.0

var rootCmd = &cobra.Command{
	Use:   "scrubd-bench",
	Short: "Drive a scripted scrub session against an in-memory pipeline",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a synthetic clip set and scrub it end to end",
	Run: func(cmd *cobra.Command, args []string) {
		runBench()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the scrubd default search path)")
	runCmd.Flags().Float64Var(&durationS, "duration", 4.0, "synthetic clip duration in seconds")
	runCmd.Flags().IntVar(&clipCount, "clips", 1, "number of synthetic clips to scrub concurrently")
	runCmd.Flags().Float64Var(&speedup, "speedup", 20.0, "scrub script step interval divisor; higher runs the script faster than real time")
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

// buildScript produces a back-and-forth scrub pass over [0, clip.DurationS]:
// forward in eighth-duration hops, then a reverse sweep back to the start,
// each hop paced by the configured speedup against real time.
func buildScript(clipID string, clip harness.Clip) harness.Script {
	step := clip.DurationS / 8
	wait := time.Duration(step / speedup * float64(time.Second))
	var points []harness.ScrubPoint
	for t := step; t <= clip.DurationS; t += step {
		points = append(points, harness.ScrubPoint{Wait: wait, T: t, Direction: ports.Forward})
	}
	for t := clip.DurationS - step; t >= 0; t -= step {
		points = append(points, harness.ScrubPoint{Wait: wait, T: t, Direction: ports.Reverse})
	}
	return harness.Script{ClipID: clipID, Points: points}
}

func runBench() {
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
			DurationS:      durationS,
			FrameDurationS: cfg.FrameDurationS,
			GOPSpanS:       syntheticGOPSpanS,
		})
	}

	ctx := context.Background()
	built, err := harness.BuildPipeline(ctx, cfg, clips)
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	built.Pipeline.BeginScrub(built.ClipSources)

	watchdog := time.NewTicker(100 * time.Millisecond)
	defer watchdog.Stop()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-watchdog.C:
				built.Pipeline.CheckStall(ctx)
			case <-stop:
				return
			}
		}
	}()

	log.Info("running scripted scrub session", "clips", len(clips), "duration", durationS)

	done := make(chan struct{}, len(clips))
	for _, c := range clips {
		c := c
		go func() {
			harness.Drive(ctx, built.Pipeline, buildScript(c.ID, c))
			done <- struct{}{}
		}()
	}
	for range clips {
		<-done
	}
	close(stop)

	closeCtx, closeCancel := context.WithTimeout(ctx, 5*time.Second)
	built.Pipeline.Close(closeCtx)
	closeCancel()

	snap := built.Metrics.Snapshot()
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error("failed to marshal metrics snapshot", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
