package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/agent"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/config"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/game"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/ui"
	"github.com/mitchelldurbincs/GridworldReinforcementLearning/internal/ui/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	manual := flag.Bool("manual", false, "Start in manual mode (arrow keys / WASD)")
	script := flag.String("script", "", "Comma separated actions for the scripted policy")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}
	cfg := config.Get()
	if *script != "" {
		cfg.Driver.Policy = agent.PolicyScripted
		cfg.Driver.Script = *script
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	layout, err := cfg.ResolveLayout()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build layout")
	}

	seed := cfg.Driver.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	policy, err := agent.NewPolicy(cfg.Driver.Policy, cfg.Driver.Script, rand.New(rand.NewSource(seed)))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build policy")
	}

	env, err := game.NewEnvironment(context.Background(), game.EnvironmentConfig{
		Layout: layout,
		Logger: log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create environment")
	}

	s := session.New(env, policy, session.Config{
		StepInterval: cfg.UI.StepInterval,
		MaxSteps:     cfg.Driver.MaxSteps,
		AutoReset:    true,
	}, log.Logger)
	if *manual {
		s.SetMode(session.ModeManual)
	}
	s.Reset()

	uiGame := ui.NewUIGame(s, cfg.UI.CellSize, log.Logger)

	ebiten.SetWindowSize(uiGame.WindowSize())
	ebiten.SetWindowTitle(cfg.UI.Window.Title)

	if err := ebiten.RunGame(uiGame); err != nil {
		log.Fatal().Err(err).Msg("UI exited with error")
	}
}
