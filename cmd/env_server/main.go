package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/config"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/experience"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/game"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/game/events"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/game/events/subscribers"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/grpc/envserver"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/monitoring"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", -1, "The server port (-1 to use config default)")
	host := flag.String("host", "", "The server host (empty to use config default)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error) (empty to use config default)")
	maxEnvs := flag.Int("max-envs", -1, "Maximum concurrent environments (-1 to use config default)")
	enableReflection := flag.Bool("enable-reflection", false, "Enable gRPC reflection for debugging")
	flag.Parse()

	// Initialize configuration
	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}

	cfg := config.Get()
	srvCfg := cfg.Server.GRPCServer

	// Use config defaults if not overridden by flags
	if *port == -1 {
		*port = srvCfg.Port
	}
	if *host == "" {
		*host = srvCfg.Host
	}
	if *logLevel == "" {
		*logLevel = srvCfg.LogLevel
	}
	if *maxEnvs == -1 {
		*maxEnvs = srvCfg.MaxEnvironments
	}
	if !*enableReflection {
		*enableReflection = srvCfg.EnableReflection
	}

	setupLogging(*logLevel, cfg.Logging.Format)

	defaultLayout, err := cfg.ResolveLayout()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build default layout")
	}

	log.Info().
		Int("port", *port).
		Str("host", *host).
		Int("max_environments", *maxEnvs).
		Dur("idle_timeout", srvCfg.IdleTimeout).
		Msg("Starting gridworld environment server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Episode events from every environment go through one bus
	bus := events.NewEventBusWithLogger(log.Logger)
	bus.Subscribe(subscribers.NewLoggerSubscriber("server-events", log.Logger, zerolog.DebugLevel))

	var persistence experience.PersistenceLayer
	var collectorFactory envserver.CollectorFactory
	if cfg.Experience.Enabled {
		persistence, err = experience.NewPersistenceLayer(cfg.Experience.PersistenceConfig(), log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create experience persistence")
		}
		collectorFactory = func(envID string) game.ExperienceCollector {
			buffer := experience.NewBuffer(cfg.Experience.BufferCapacity, log.Logger)
			return experience.NewSimpleCollector(envID, buffer, persistence, log.Logger)
		}
	}

	manager := envserver.NewManager(envserver.ManagerConfig{
		MaxEnvironments:  *maxEnvs,
		IdleTimeout:      srvCfg.IdleTimeout,
		MaxDimension:     srvCfg.MaxDimension,
		Logger:           log.Logger,
		EventBus:         bus,
		CollectorFactory: collectorFactory,
	})
	go manager.RunCleanup(ctx, srvCfg.CleanupInterval)

	monitor := monitoring.NewGoroutineMonitor(monitoring.MonitorConfig{Logger: log.Logger})
	monitor.RegisterGauge("environments", manager.Count)
	go monitor.Run(ctx)

	// Create listener
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingInterceptor,
			recoveryInterceptor,
		),
	)

	envserver.RegisterEnvironmentServiceServer(grpcServer, envserver.NewServer(manager, defaultLayout, log.Logger))

	// Register health service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(envserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Register reflection service for debugging
	if *enableReflection {
		reflection.Register(grpcServer)
		log.Info().Msg("gRPC reflection enabled")
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

		// Set health status to NOT_SERVING
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(envserver.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		// Give ongoing requests time to complete
		time.Sleep(time.Duration(srvCfg.GracefulShutdownDelay) * time.Second)

		log.Info().Msg("Gracefully stopping gRPC server")
		grpcServer.GracefulStop()
		cancel()
	}()

	log.Info().Str("address", lis.Addr().String()).Msg("gRPC server listening")

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to serve")
		}
	}()

	<-ctx.Done()

	if persistence != nil {
		if err := persistence.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close experience persistence")
		}
	}
	m := monitor.GetMetrics()
	log.Info().Int("peak_goroutines", m.Peak).Msg("Server shutdown complete")
}

func setupLogging(level, format string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if format == "json" || os.Getenv("APP_ENV") == "production" {
		// JSON output for production
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}
