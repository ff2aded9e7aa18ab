package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/agent"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/config"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/driver"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/experience"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/game"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/game/events/subscribers"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/render"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to config file")
	episodes := flag.Int("episodes", -1, "Number of episodes (-1 to use config default)")
	maxSteps := flag.Int("max-steps", -1, "Step limit per episode (-1 to use config default)")
	seed := flag.Int64("seed", 0, "Policy seed (0 to use config default)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error) (empty to use config default)")
	renderPath := flag.String("render", "", "Write a PNG of the grid to this path")
	chartPath := flag.String("chart", "", "Write an HTML reward chart to this path")
	script := flag.String("script", "", "Comma separated actions for the scripted policy, e.g. up,up,right")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}
	cfg := config.Get()

	// Flags override config
	if *episodes > 0 {
		cfg.Driver.Episodes = *episodes
	}
	if *maxSteps > 0 {
		cfg.Driver.MaxSteps = *maxSteps
	}
	if *seed != 0 {
		cfg.Driver.Seed = *seed
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *script != "" {
		cfg.Driver.Policy = agent.PolicyScripted
		cfg.Driver.Script = *script
	}
	if *renderPath != "" {
		cfg.Render.ImagePath = *renderPath
	}
	if *chartPath != "" {
		cfg.Render.ChartPath = *chartPath
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	layout, err := cfg.ResolveLayout()
	if err != nil {
		return fmt.Errorf("build layout: %w", err)
	}

	policySeed := cfg.Driver.Seed
	if policySeed == 0 {
		policySeed = time.Now().UnixNano()
	}
	policy, err := agent.NewPolicy(cfg.Driver.Policy, cfg.Driver.Script, rand.New(rand.NewSource(policySeed)))
	if err != nil {
		return err
	}

	envCfg := game.EnvironmentConfig{
		Layout: layout,
		Logger: log.Logger,
	}

	var collector *experience.SimpleCollector
	if cfg.Experience.Enabled {
		persistence, err := experience.NewPersistenceLayer(cfg.Experience.PersistenceConfig(), log.Logger)
		if err != nil {
			return fmt.Errorf("experience persistence: %w", err)
		}
		defer func() {
			if err := persistence.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close experience persistence")
			}
		}()
		buffer := experience.NewBuffer(cfg.Experience.BufferCapacity, log.Logger)
		defer buffer.Close()
		collector = experience.NewSimpleCollector("cli", buffer, persistence, log.Logger)
		envCfg.ExperienceCollector = collector
	}

	env, err := game.NewEnvironment(ctx, envCfg)
	if err != nil {
		return err
	}
	env.EventBus().Subscribe(subscribers.NewLoggerSubscriber("cli-events", log.Logger, zerolog.DebugLevel))

	reporter := driver.NewConsoleReporter(os.Stdout, cfg.Render.Colors)
	fmt.Println(render.TextGrid(layout, layout.AgentStart, cfg.Render.Colors))

	outcomes, err := driver.RunEpisodes(ctx, env, policy, driver.Config{
		MaxSteps: cfg.Driver.MaxSteps,
		Logger:   log.Logger,
		Reporter: reporter,
	}, cfg.Driver.Episodes)
	if err != nil {
		return err
	}

	if len(outcomes) > 1 {
		reporter.PrintSummary(driver.Summarize(outcomes))
	}
	if len(outcomes) > 0 {
		fmt.Println(render.TextGrid(layout, outcomes[len(outcomes)-1].Final, cfg.Render.Colors))
	}

	if collector != nil {
		log.Info().
			Int("episodes", collector.EpisodeCount()).
			Int("buffered", collector.Buffer().Size()).
			Msg("Experience collection finished")
	}

	// Visualizations never fail the run
	if cfg.Render.ImagePath != "" {
		if err := render.SavePNG(layout, cfg.Render.ImagePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Render.ImagePath).Msg("Could not render grid image")
		} else {
			log.Info().Str("path", cfg.Render.ImagePath).Msg("Grid image written")
		}
	}
	if cfg.Render.ChartPath != "" {
		if err := render.SaveRewardChart(cfg.Render.ChartPath, outcomes); err != nil {
			log.Warn().Err(err).Str("path", cfg.Render.ChartPath).Msg("Could not render reward chart")
		} else {
			log.Info().Str("path", cfg.Render.ChartPath).Msg("Reward chart written")
		}
	}
	return nil
}

func setupLogging(level, format string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if format == "json" || os.Getenv("APP_ENV") == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}
