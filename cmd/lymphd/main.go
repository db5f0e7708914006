// Command lymphd is the process entry point for a lymph container: it
// loads a YAML config, wires an etcd-backed registry, an in-process event
// bus and a transport, installs the echo reference interface alongside the
// always-on lymph.ping/lymph.get_metrics interface, and brings the whole
// thing up and down through Container.Start/Stop on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mouadino/lymph/codec"
	"github.com/mouadino/lymph/config"
	"github.com/mouadino/lymph/container"
	"github.com/mouadino/lymph/events"
	"github.com/mouadino/lymph/interfaces"
	"github.com/mouadino/lymph/middleware"
	"github.com/mouadino/lymph/monitor"
	"github.com/mouadino/lymph/registry"
	"github.com/mouadino/lymph/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func usage() {
	fmt.Printf(`lymphd - runs a lymph service container.

Usage: lymphd [options]

Valid options:
`)
	flag.PrintDefaults()
}

func setupFlags() (configPath string, serviceName string) {
	configFlag := flag.StringP("config-file", "f", "lymph.yml",
		"YAML-formatted container configuration file.")
	serviceFlag := flag.StringP("service", "s", "",
		"Container name (overrides config node name); interfaces are advertised under their own names.")
	help := flag.BoolP("help", "h", false, "Displays this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	return *configFlag, *serviceFlag
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func main() {
	configPath, serviceFlag := setupFlags()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lymphd: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	serviceName := cfg.Node
	if serviceFlag != "" {
		serviceName = serviceFlag
	}

	if node := os.Getenv("LYMPH_NODE"); node != "" && cfg.IP == "" {
		log.Info().Str("node", node).Msg("LYMPH_NODE set, deferring bind address to it")
	}

	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct etcd registry")
	}

	bus := events.NewBus()

	tr := transport.New(transport.Options{
		IP:    cfg.IP,
		Port:  cfg.Port,
		Codec: codec.CodecTypeBinary,
	})

	c := container.New(tr, reg, bus, container.Options{
		ServiceName: serviceName,
	})
	c.Use(middleware.LoggingMiddleware())

	c.Install(interfaces.NewDefault(c.Metrics))
	c.Install(interfaces.NewEcho())

	mon := monitor.New(c, tr, cfg.Monitor.Endpoint, cfg.Monitor.Interval)
	c.SetMonitor(mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("container failed to start")
	}
	log.Info().Str("endpoint", c.Endpoint()).Str("identity", c.Identity()).Msg("lymphd running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Registry.TTL)
	defer stopCancel()
	c.Stop(stopCtx)
	log.Info().Msg("lymphd stopped")
}
