package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/agent"
	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/collect"
	"github.com/infra-mapper/infra-mapper/internal/command"
	"github.com/infra-mapper/infra-mapper/internal/config"
	"github.com/infra-mapper/infra-mapper/internal/deps"
	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
)

func main() {
	cfg := config.LoadAgent()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON, cfg.LogLevel)

	fmt.Println("Infra-Mapper agent " + agent.Version)
	fmt.Println("=============================================")
	fmt.Printf("MAPPER_BACKEND_URL=%s\n", cfg.BackendURL)
	fmt.Printf("MAPPER_SCAN_INTERVAL=%s\n", cfg.ScanInterval)
	fmt.Printf("MAPPER_DOCKER_SOCKET=%s\n", cfg.DockerSocket)
	fmt.Printf("MAPPER_TCPDUMP_ENABLED=%t\n", cfg.TcpdumpEnabled)
	fmt.Printf("MAPPER_COLLECT_LOGS=%t\n", cfg.CollectLogs)
	fmt.Printf("MAPPER_COLLECT_METRICS=%t\n", cfg.CollectMetrics)
	fmt.Printf("MAPPER_COMMAND_SERVER_ENABLED=%t\n", cfg.CommandServerEnabled)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	client, err := docker.NewClient(cfg.DockerSocket)
	if err != nil {
		log.Error("failed to create Docker client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		log.Error("docker daemon unreachable", "socket", cfg.DockerSocket, "error", err)
		os.Exit(1)
	}

	hostname := agent.Hostname(cfg.Hostname)
	id := agent.AgentID(cfg.AgentID, hostname)
	clk := clock.System{}

	// Capture pacing survives restarts through the state db; a broken state
	// path degrades to in-memory pacing rather than killing the agent.
	var pacing collect.PacingStore
	if cfg.TcpdumpEnabled {
		state, err := agent.OpenState(cfg.StatePath)
		if err != nil {
			log.Warn("state db unavailable, capture pacing resets on restart",
				"path", cfg.StatePath, "error", err)
		} else {
			defer state.Close()
			pacing = state
		}
	}

	collectors := agent.Collectors{
		Inventory: collect.NewInventory(client, deps.NewInferrer(client, cfg.ComposeSearchPaths, log), log),
		ProcNet:   collect.NewProcNet(log),
	}
	if cfg.TcpdumpEnabled {
		collectors.Capture = collect.NewCapture(client, collect.CaptureConfig{
			Mode:       collect.CaptureMode(cfg.TcpdumpMode),
			Duration:   int(cfg.TcpdumpDuration / time.Second),
			Interval:   int(cfg.TcpdumpInterval / time.Second),
			MaxPackets: cfg.TcpdumpMaxPackets,
		}, pacing, log, clk)
	}
	if cfg.CollectLogs {
		collectors.Logs = collect.NewLogs(client, clk, log)
	}
	if cfg.CollectMetrics {
		collectors.Metrics = collect.NewSysMetrics(client, log)
	}
	if cfg.TailscaleEnabled {
		collectors.Tailscale = collect.NewTailscale(log)
	}

	if cfg.CommandServerEnabled {
		cmdSrv := command.NewServer(cfg.APIKey, client, collectors.Metrics, collectors.Logs, log)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.CommandServerPort)
			if err := cmdSrv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("command server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cmdSrv.Shutdown(shutdownCtx)
		}()
	}

	reporter := agent.NewClient(cfg.BackendURL, cfg.APIKey, log)
	a := agent.New(cfg, id, hostname, collectors, reporter, clk, log)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("agent exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("agent shutdown complete")
}
