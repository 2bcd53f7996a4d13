package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tr1v3r/pkg/log"
	"github.com/urfave/cli/v3"

	"github.com/tr1v3r/castlink/internal/app"
	"github.com/tr1v3r/castlink/internal/config"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/player"
)

func main() {
	defer log.Close()

	cmd := &cli.Command{
		Name:  "castlink",
		Usage: "DLNA renderer and cast receiver, with tools to discover and drive other devices",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "env", Value: ".env", Usage: "dotenv file read before the environment"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return ctx, nil
		},
		Action: serve,
		Commands: []*cli.Command{
			serveCommand(),
			scanCommand(),
			connectCommand(),
			pushCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Error("%s", err)
		log.Close()
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) config.Config {
	return config.Load(cmd.String("env"))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the renderer and the cast receiver until interrupted",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "http-port", Usage: "descriptor server port"},
			&cli.IntFlag{Name: "cast-port", Usage: "cast receiver port"},
			&cli.StringFlag{Name: "name", Usage: "friendly device name"},
			&cli.StringFlag{Name: "player", Usage: "mpv binary"},
		},
		Action: serve,
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)
	if v := int(cmd.Int("http-port")); v > 0 {
		cfg.HTTPPort = v
	}
	if v := int(cmd.Int("cast-port")); v > 0 {
		cfg.CastPort = v
	}
	if v := cmd.String("name"); v != "" {
		cfg.DeviceName = v
	}
	if v := cmd.String("player"); v != "" {
		cfg.PlayerBin = v
	}
	cfg.Validate()

	metrics := monitoring.New()
	p := player.NewMPVPlayer(player.WithBinary(cfg.PlayerBin), player.WithVolume(cfg.Volume))
	rt := app.New(cfg, p, app.WithMetrics(metrics))

	if err := rt.Start(ctx); err != nil {
		log.Error("started with unavailable features: %s", err)
	}
	defer rt.Stop()

	// graceful exit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	metrics.LogMetrics()
	log.Info("bye")
	return nil
}
