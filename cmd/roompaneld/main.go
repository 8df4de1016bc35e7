package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/app"
	"github.com/dokzlo13/roompaneld/internal/config"
	"github.com/dokzlo13/roompaneld/internal/script"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	check := flag.Bool("check", false, "Validate the configuration and room script, then exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", configPath).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log)

	if *check {
		os.Exit(runCheck(cfg, configPath))
	}

	log.Info().
		Str("config", configPath).
		Str("database", cfg.Database.Path).
		Str("broker", brokerField(cfg)).
		Msg("Starting roompaneld")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create room panel")
	}

	if err := application.Start(app.SignalContext()); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start room panel")
	}

	cause := application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	if !app.IsCleanStop(cause) {
		log.Error().Err(cause).Msg("Room panel stopped on error")
		os.Exit(1)
	}
}

// runCheck validates what can be validated without a broker and returns
// the process exit code.
func runCheck(cfg *config.Config, configPath string) int {
	if cfg.Script != "" {
		if err := script.Check(cfg.Script); err != nil {
			log.Error().Err(err).Str("script", cfg.Script).Msg("Room script check failed")
			return 1
		}
	}
	fmt.Printf("%s: configuration ok (page %s, script %q, mqtt %t, status %t)\n",
		configPath, cfg.Panel.Page, cfg.Script, cfg.MQTT.Enabled, cfg.Status.Enabled)
	return 0
}

func brokerField(cfg *config.Config) string {
	if !cfg.MQTT.Enabled {
		return "disabled"
	}
	return cfg.MQTT.Broker
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.UseJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		})
	}

	level, err := zerolog.ParseLevel(cfg.GetLevel())
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
