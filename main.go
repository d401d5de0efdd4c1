package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/rarydzu/lcfs/lcfs/config"
	"github.com/rarydzu/lcfs/worker"
	"github.com/rarydzu/lcfs/workload"
	"go.uber.org/zap"
)

var fConfig = flag.String("config", "", "Path to YAML configuration file.")
var fServe = flag.Bool("serve", false, "Run the device bus daemon instead of a workload.")
var fTrace = flag.String("trace", "", "Workload trace to replay; a random one is generated when empty.")
var fSeed = flag.Int64("seed", 1, "Seed of the generated workload.")
var fOps = flag.Int("ops", 1000, "Operations in the generated workload.")
var fFiles = flag.Int("files", 4, "Files in the generated workload.")
var fHost = flag.String("host", "", "Device bus host.")
var fPort = flag.Int("port", 0, "Device bus port.")
var fCache = flag.Int("cache", 0, "Block cache capacity.")
var fStatAddress = flag.String("stat_address", "", "Listen address of the stat service.")
var fStore = flag.String("store", "", "Block store of the daemon: memory, badger, leveldb or nutsdb.")
var fStorePath = flag.String("store_path", "", "Directory of the daemon block store.")
var fDev = flag.Bool("dev", false, "Run in development mode")

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *fConfig != "" {
		var err error
		if cfg, err = config.Load(*fConfig); err != nil {
			return nil, err
		}
	}
	if *fHost != "" {
		cfg.Host = *fHost
	}
	if *fPort != 0 {
		cfg.Port = *fPort
	}
	if *fCache != 0 {
		cfg.CacheCapacity = *fCache
	}
	if *fStatAddress != "" {
		cfg.StatAddress = *fStatAddress
	}
	if *fStore != "" {
		cfg.Server.Store = *fStore
	}
	if *fStorePath != "" {
		cfg.Server.StorePath = *fStorePath
	}
	if *fDev {
		cfg.DebugMode = true
	}
	return cfg, cfg.Validate()
}

func loadTrace() ([]workload.Op, error) {
	if *fTrace == "" {
		return workload.Generate(*fSeed, *fFiles, *fOps, 1024), nil
	}
	f, err := os.Open(*fTrace)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return workload.Parse(f)
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := zap.NewProduction()
	if cfg.DebugMode {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	sugarlog := logger.Sugar()
	defer sugarlog.Sync()
	ctx := context.Background()

	if *fServe {
		daemon, err := worker.NewDaemon(cfg, sugarlog)
		if err != nil {
			sugarlog.Fatalf("device bus: %v", err)
		}
		if err := daemon.Serve(ctx); err != nil {
			sugarlog.Fatalf("device bus: %v", err)
		}
		return
	}

	ops, err := loadTrace()
	if err != nil {
		sugarlog.Fatalf("trace: %v", err)
	}
	w, err := worker.New(cfg, sugarlog)
	if err != nil {
		sugarlog.Fatalf("worker: %v", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := w.Start(ctx); err != nil {
		sugarlog.Fatalf("Start: %v", err)
	}
	sum, err := w.Run(ctx, ops)
	cancel()
	w.Wait()
	if err != nil {
		sugarlog.Fatalf("workload: %v", err)
	}
	sugarlog.Infof("%d ops (%d writes, %d reads, %d seeks) in %s, %d bytes written, %d bytes verified",
		sum.Ops, sum.Writes, sum.Reads, sum.Seeks, sum.Duration, sum.BytesWritten, sum.BytesRead)
}
