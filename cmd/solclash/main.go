package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/core/logx"

	"solclash/internal/arena"
	"solclash/internal/containerrt"
	"solclash/internal/metrics"
	"solclash/internal/orchconfig"
	"solclash/internal/tape"
	"solclash/internal/tournament"
	"solclash/pkg/confkit"
)

func main() {
	var (
		configPath  = flag.String("config", "etc/solclash.yaml", "path to the orchestrator configuration")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	)
	flag.Parse()
	logx.MustSetup(logx.LogConf{})
	logx.DisableStat()

	confkit.LoadDotenvOnce()

	cfg, err := orchconfig.Load(*configPath)
	if err != nil {
		fatalf("load orchestrator config %s: %v", *configPath, err)
	}
	logx.Infof("solclash: loaded config runtime=%s rounds=%d agents=%d output_dir=%s",
		cfg.Runtime, cfg.Rounds, len(cfg.Agents), cfg.OutputDir)

	arenaCfg, err := arena.Load(cfg.ArenaConfigPath)
	if err != nil {
		fatalf("load arena config %s: %v", cfg.ArenaConfigPath, err)
	}
	if err := cfg.ValidateBaselines(arenaCfg.EnabledBaselines); err != nil {
		fatalf("validate baselines: %v", err)
	}

	tapeFile, err := tape.Load(cfg.TapePath)
	if err != nil {
		fatalf("load bar tape %s: %v", cfg.TapePath, err)
	}
	logx.Infof("solclash: loaded %d bars from %s", len(tapeFile.Bars), cfg.TapePath)

	var instrument tape.Instrument
	if tapeFile.Instrument != nil {
		instrument = *tapeFile.Instrument
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		fatalf("build container runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logx.Infof("solclash: received signal %s, cancelling tournament", sig)
		cancel()
	}()

	logx.Infof("solclash: starting tournament arena=%s rounds=%d", arenaCfg.ArenaID, cfg.Rounds)
	result, err := tournament.Run(ctx, rt, cfg, *arenaCfg, instrument, tapeFile.Bars)
	if err != nil {
		fatalf("tournament run failed: %v", err)
	}
	logx.Infof("solclash: tournament complete rounds=%d output_dir=%s", len(result.Rounds), cfg.OutputDir)
}

func buildRuntime(cfg *orchconfig.Config) (containerrt.Runtime, error) {
	switch cfg.Container.Backend {
	case orchconfig.BackendDocker:
		return containerrt.NewDocker(cfg.Container.DockerBinary), nil
	default:
		return containerrt.NewHost(cfg.Container.HostBaseDir)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logx.Infof("solclash: serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.Errorf("solclash: metrics server stopped: %v", err)
	}
}

func fatalf(format string, args ...interface{}) {
	logx.Errorf(format, args...)
	os.Exit(1)
}
