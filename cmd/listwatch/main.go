package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			version = info.Main.Version
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", version, commit)
}

type Flags struct {
	LogLevel    string
	NoColor     bool
	APIBase     string
	HouseholdID string
	ListID      string
	Token       string
	APIKey      string
}

func setupLogger(level string, noColor bool) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}).Level(parsedLevel)
	return nil
}

func run() error {
	flags := &Flags{}

	app := &cli.Command{
		Name:    "listwatch",
		Usage:   "follow a shared shopping list live from the terminal",
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "no-color",
				Usage:       "disable colored output",
				Sources:     cli.EnvVars("NO_COLOR"),
				Destination: &flags.NoColor,
			},
			&cli.StringFlag{
				Name:        "api",
				Usage:       "list API base URL",
				Sources:     cli.EnvVars("LISTWATCH_API"),
				Value:       "http://localhost:8080",
				Destination: &flags.APIBase,
			},
			&cli.StringFlag{
				Name:        "household",
				Usage:       "household id",
				Sources:     cli.EnvVars("LISTWATCH_HOUSEHOLD"),
				Destination: &flags.HouseholdID,
			},
			&cli.StringFlag{
				Name:        "list",
				Usage:       "list id",
				Sources:     cli.EnvVars("LISTWATCH_LIST"),
				Destination: &flags.ListID,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "bearer token",
				Sources:     cli.EnvVars("LISTWATCH_TOKEN"),
				Destination: &flags.Token,
			},
			&cli.StringFlag{
				Name:        "api-key",
				Usage:       "API key, if the server requires one",
				Sources:     cli.EnvVars("LISTWATCH_API_KEY"),
				Destination: &flags.APIKey,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, setupLogger(flags.LogLevel, flags.NoColor)
		},
	}
	app = NewWatchCmd(flags).Register(app)
	app = NewCheckCmd(flags).Register(app)
	app = NewTokenCmd(flags).Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args)
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("listwatch failed")
		os.Exit(1)
	}
}
