// Package main provides gemmad, the shared-memory summarization broker.
//
// gemmad creates the slot region, runs the detector/worker/writer
// pipeline, and tears the region down on SIGINT/SIGTERM. Clients
// attach to the same region name and exchange request/response JSON
// through the slots (see gemmactl for a reference client).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/gemma-ipc/gemmad/internal/broker"
	"github.com/gemma-ipc/gemmad/internal/config"
	"github.com/gemma-ipc/gemmad/internal/llm"
	"github.com/gemma-ipc/gemmad/pkg/slotipc"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("gemmad", pflag.ContinueOnError)

	var (
		configPath  = flags.String("config", "", "path to JSONC config file")
		regionName  = flags.String("shm-name", "", "shared memory region name")
		slotCount   = flags.Int("slot-count", 0, "number of slots")
		slotSize    = flags.Int("slot-size", 0, "slot size in bytes")
		workers     = flags.Int("workers", 0, "worker goroutines")
		writers     = flags.Int("writers", 0, "response writer goroutines")
		engineCmd   = flags.StringSlice("engine-cmd", nil, "external inference command (empty runs the built-in mock)")
		logLevel    = flags.String("log-level", "", "log level (debug, info, warn, error)")
		logJSON     = flags.Bool("log-json", false, "log in JSON format")
		runtimeFile = flags.String("runtime-file", "", "path for the runtime info file")
	)

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 2
	}

	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 1
	}

	// Flags beat file and environment.
	if *regionName != "" {
		cfg.RegionName = *regionName
	}

	if *slotCount > 0 {
		cfg.SlotCount = *slotCount
	}

	if *slotSize > 0 {
		cfg.SlotSize = *slotSize
	}

	if *workers > 0 {
		cfg.Workers = *workers
	}

	if *writers > 0 {
		cfg.Writers = *writers
	}

	if len(*engineCmd) > 0 {
		cfg.EngineCommand = *engineCmd
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if *logJSON {
		cfg.LogJSON = true
	}

	if *runtimeFile != "" {
		cfg.RuntimeFile = *runtimeFile
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 1
	}

	setupLogging(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := serve(cfg, sigCh); err != nil && err != context.Canceled {
		log.WithFields(log.Fields{"error": err}).Error("broker exited")

		return 1
	}

	return 0
}

func setupLogging(cfg config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}

	log.SetLevel(level)

	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func serve(cfg config.Config, sigCh chan os.Signal) error {
	region, err := slotipc.Create(slotipc.Options{
		Name:        cfg.RegionName,
		SlotCount:   cfg.SlotCount,
		SlotSize:    cfg.SlotSize,
		Dir:         cfg.RegionDir,
		LockTimeout: cfg.LockTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating region: %w", err)
	}

	defer func() {
		_ = region.Close()
		_ = region.Unlink()
	}()

	log.WithFields(log.Fields{
		"region":    region.Path(),
		"slots":     region.SlotCount(),
		"slot_size": region.SlotSize(),
	}).Info("region created")

	if err := writeRuntimeFile(cfg, region); err != nil {
		// The broker works without it; only discovery via gemmactl
		// info suffers.
		log.WithFields(log.Fields{"path": cfg.RuntimeFile, "error": err}).Warn("runtime file not written")
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sig := <-sigCh
		log.WithFields(log.Fields{"signal": sig}).Info("shutdown requested")
		cancel()
	}()

	b := broker.New(slotipc.NewScheduler(region), engine, broker.Config{
		Workers:        cfg.Workers,
		Writers:        cfg.Writers,
		PollInterval:   cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
	})

	return b.Run(ctx)
}

func buildEngine(cfg config.Config) (llm.Engine, error) {
	if len(cfg.EngineCommand) == 0 {
		log.Warn("no engine command configured, running with the built-in mock engine")

		return llm.NewMock(llm.Completion{
			Text:         "```json\n{\"summary\": \"\", \"keyword\": \"\", \"paragraphs\": []}\n```",
			FinishReason: llm.FinishStop,
		}), nil
	}

	return llm.NewCommandEngine(cfg.EngineCommand, cfg.ModelContextSize)
}

// runtimeInfo is the discovery document other processes read to find
// the live region geometry.
type runtimeInfo struct {
	RegionName string `json:"shm_name"`
	RegionPath string `json:"shm_path"`
	SlotCount  int    `json:"slot_count"`
	SlotSize   int    `json:"slot_size"`
	PID        int    `json:"pid"`
}

func writeRuntimeFile(cfg config.Config, region *slotipc.Region) error {
	if cfg.RuntimeFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.RuntimeFile), 0o755); err != nil {
		return err
	}

	info := runtimeInfo{
		RegionName: region.Name(),
		RegionPath: region.Path(),
		SlotCount:  region.SlotCount(),
		SlotSize:   region.SlotSize(),
		PID:        os.Getpid(),
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	// Atomic replace so a reader never sees a half-written file.
	return atomic.WriteFile(cfg.RuntimeFile, bytes.NewReader(append(data, '\n')))
}
