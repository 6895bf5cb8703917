package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/homecart/listsync/internal/client/reconcile"
	"github.com/homecart/listsync/internal/client/stream"
	"github.com/homecart/listsync/internal/contracts"
	platformauth "github.com/homecart/listsync/internal/platform/auth"
)

func (f *Flags) client() (*stream.Client, error) {
	if f.HouseholdID == "" || f.ListID == "" {
		return nil, errors.New("--household and --list are required")
	}
	if f.Token == "" {
		return nil, errors.New("--token is required")
	}
	return &stream.Client{
		BaseURL:      f.APIBase,
		HouseholdID:  f.HouseholdID,
		ListID:       f.ListID,
		Token:        f.Token,
		APIKey:       f.APIKey,
		FetchTimeout: 10 * time.Second,
	}, nil
}

// WatchCmd follows one list. SIGUSR1 backgrounds the session and SIGUSR2
// brings it back, standing in for app lifecycle events.
type WatchCmd struct {
	flags     *Flags
	heartbeat time.Duration

	// mu keeps each printed list whole; OnChange fires from the session's
	// reader and from background refetches.
	mu  sync.Mutex
	out io.Writer
}

func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags, out: os.Stdout}
}

func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "watch",
		Usage: "print the list and keep it reconciled with live events",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "heartbeat",
				Usage:       "server heartbeat period; twice this without a frame forces a reconnect",
				Value:       30 * time.Second,
				Destination: &cmd.heartbeat,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *WatchCmd) run(ctx context.Context, _ *cli.Command) error {
	client, err := cmd.flags.client()
	if err != nil {
		return err
	}

	rec := reconcile.New(nil)
	rec.OnChange = cmd.render

	logger := log.Logger
	session := stream.NewSession(client, rec, stream.Options{
		HeartbeatInterval: cmd.heartbeat,
		Logger:            &logger,
		OnState: func(s stream.State) {
			log.Info().Str("state", s.String()).Msg("stream")
		},
		OnEvent: func(ev contracts.WireEvent, action reconcile.Action) {
			log.Debug().Str("kind", string(ev.Kind)).Str("item_id", ev.ItemID).Str("action", action.String()).Msg("event")
		},
	})

	lifecycle := make(chan os.Signal, 1)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(lifecycle)

	session.Foreground(ctx)
	defer session.Background()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-lifecycle:
			if sig == syscall.SIGUSR1 {
				log.Info().Msg("backgrounded")
				session.Background()
			} else {
				log.Info().Msg("foregrounded")
				session.Foreground(ctx)
			}
		}
	}
}

func (cmd *WatchCmd) render(items []reconcile.ItemView) {
	var buf bytes.Buffer
	printItems(&buf, items)

	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	_, _ = cmd.out.Write(buf.Bytes())
}

func printItems(w io.Writer, items []reconcile.ItemView) {
	fmt.Fprintf(w, "\n%d item(s)\n", len(items))
	for _, it := range items {
		mark := " "
		if it.Checked {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %-24s %d %s\n", mark, it.Name, it.Quantity, it.Unit)
	}
}

type CheckCmd struct {
	flags *Flags
}

func NewCheckCmd(flags *Flags) *CheckCmd {
	return &CheckCmd{flags: flags}
}

func (cmd *CheckCmd) Register(app *cli.Command) *cli.Command {
	for _, checked := range []bool{true, false} {
		name, usage := "check", "mark an item as bought"
		if !checked {
			name, usage = "uncheck", "mark an item as not bought"
		}
		app.Commands = append(app.Commands, &cli.Command{
			Name:      name,
			Usage:     usage,
			ArgsUsage: "<item-id>",
			Action: func(ctx context.Context, c *cli.Command) error {
				return cmd.run(ctx, c.Args().First(), checked)
			},
		})
	}
	return app
}

func (cmd *CheckCmd) run(ctx context.Context, itemID string, checked bool) error {
	if itemID == "" {
		return errors.New("item id argument is required")
	}
	client, err := cmd.flags.client()
	if err != nil {
		return err
	}
	if err := client.SetChecked(ctx, itemID, checked); err != nil {
		return err
	}
	log.Info().Str("item_id", itemID).Bool("checked", checked).Msg("updated")
	return nil
}

// TokenCmd signs a bearer token for local development.
type TokenCmd struct {
	flags  *Flags
	secret string
	user   string
	ttl    time.Duration
}

func NewTokenCmd(flags *Flags) *TokenCmd {
	return &TokenCmd{flags: flags}
}

func (cmd *TokenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "token",
		Usage: "sign a development bearer token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "secret",
				Sources:     cli.EnvVars("JWT_SECRET"),
				Value:       "dev-insecure-change-me",
				Destination: &cmd.secret,
			},
			&cli.StringFlag{
				Name:        "user",
				Value:       "listwatch",
				Destination: &cmd.user,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Value:       12 * time.Hour,
				Destination: &cmd.ttl,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if cmd.flags.HouseholdID == "" {
				return errors.New("--household is required")
			}
			token, err := platformauth.NewManager(cmd.secret, cmd.ttl).Sign(cmd.user, cmd.flags.HouseholdID)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	})
	return app
}
