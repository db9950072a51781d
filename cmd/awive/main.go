// Command awive estimates river surface velocities from a fixed-camera
// recording, printing one velocity field per processing window.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/YetAnotherUser24/awive/config"
	"github.com/YetAnotherUser24/awive/pipeline"
	"github.com/YetAnotherUser24/awive/util"
	"github.com/YetAnotherUser24/awive/velocity"
)

func main() {
	var (
		configPath string
		videoPath  string
		framesDir  string
		outputPath string
		workers    int
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to station config file (.json, .yaml)")
	flag.StringVar(&videoPath, "video", "", "Path to video file")
	flag.StringVar(&framesDir, "frames", "", "Directory of extracted frame images")
	flag.StringVar(&outputPath, "output", "", "Write results as JSON to this file instead of stdout summaries")
	flag.IntVar(&workers, "workers", 0, "Worker pool size override, 0 keeps the configured value")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if configPath == "" {
		log.Fatal("missing required -config flag")
	}
	if (videoPath == "") == (framesDir == "") {
		log.Fatal("exactly one of -video or -frames must be given")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	logger, err := buildLogger(verbose)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	src, closeSrc, err := openSource(cfg, videoPath, framesDir)
	if err != nil {
		log.Fatalf("open source: %v", err)
	}
	defer closeSrc()

	orch, err := pipeline.New(cfg, logger)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	out, err := orch.Run(ctx, src)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	logger.Info("run complete",
		zap.Int("fields", len(out.Fields)),
		zap.Duration("elapsed", time.Since(start)))

	if outputPath != "" {
		if err := writeJSON(outputPath, out); err != nil {
			log.Fatalf("write output: %v", err)
		}
		return
	}

	for _, field := range out.Fields {
		printField("window", field)
	}
	if out.Aggregate != nil {
		printField("average", *out.Aggregate)
	}
	for stage, stats := range out.Timings {
		fmt.Printf("stage %-12s n=%-5d mean=%v\n", stage, stats.Count, stats.Mean())
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openSource picks the frame source matching the input flags. The returned
// closer is a no-op for directory input.
func openSource(cfg config.Config, videoPath, framesDir string) (pipeline.FrameSource, func(), error) {
	interval := time.Duration(cfg.Interval() * float64(time.Second))
	if videoPath != "" {
		src, err := util.NewVideoSource(videoPath, interval)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	}
	src, err := util.NewDirectorySource(framesDir, interval)
	if err != nil {
		return nil, nil, err
	}
	return src, func() {}, nil
}

func printField(label string, field velocity.Field) {
	fmt.Printf("%s start=%d\n", label, field.WindowStart)
	for _, res := range sortedResults(field) {
		if !res.Valid {
			fmt.Printf("  %s  invalid (%s)\n", res.CellID, res.Reason)
			continue
		}
		fmt.Printf("  %s  %.3f m/s  vx=%.3f vy=%.3f  conf=%.2f\n",
			res.CellID, res.Velocity.Magnitude(), res.Velocity.VX, res.Velocity.VY, res.Confidence)
	}
}

func sortedResults(field velocity.Field) []velocity.Result {
	out := make([]velocity.Result, 0, len(field.Entries))
	for _, res := range field.Entries {
		out = append(out, res)
	}
	// Cell IDs are zero-padded, plain string order is positional order.
	sort.Slice(out, func(i, j int) bool { return out[i].CellID < out[j].CellID })
	return out
}

func writeJSON(path string, out pipeline.Output) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
