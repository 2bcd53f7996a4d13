package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tr1v3r/pkg/log"
	"github.com/urfave/cli/v3"

	"github.com/tr1v3r/castlink/internal/castclient"
	"github.com/tr1v3r/castlink/internal/device"
	"github.com/tr1v3r/castlink/internal/discovery"
	"github.com/tr1v3r/castlink/internal/model"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "discover cloud TVs, peer receivers and DLNA renderers",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Usage: "discovery window"},
			&cli.StringFlag{Name: "target", Value: discovery.DefaultTarget, Usage: "search destination"},
			&cli.BoolFlag{Name: "receivers", Usage: "also browse mDNS cast receivers"},
			&cli.BoolFlag{Name: "dlna", Usage: "also search DLNA MediaRenderers"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig(cmd)
			timeout := cmd.Duration("timeout")
			if timeout <= 0 {
				timeout = cfg.DiscoveryTimeout
			}

			devices := discovery.DiscoverAll(ctx, discovery.Sources{
				CloudTV:   discovery.NewClient(cmd.String("target")),
				Receivers: cmd.Bool("receivers"),
				Renderers: cmd.Bool("dlna"),
			}, timeout)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tADDRESS\tMODEL")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Kind, d.HostPort(), d.Model)
			}
			return w.Flush()
		},
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "discover cloud TVs, connect to one and send commands",
		ArgsUsage: "[device-id]",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Usage: "discovery window"},
			&cli.StringFlag{Name: "target", Value: discovery.DefaultTarget, Usage: "search destination"},
			&cli.StringFlag{Name: "address", Usage: "host:port of a device to use instead of discovery"},
			&cli.StringFlag{Name: "play", Usage: "media URL to play"},
			&cli.StringFlag{Name: "title", Usage: "title for --play"},
			&cli.BoolFlag{Name: "pause"},
			&cli.BoolFlag{Name: "resume"},
			&cli.BoolFlag{Name: "stop"},
			&cli.FloatFlag{Name: "seek", Usage: "position in seconds"},
			&cli.FloatFlag{Name: "volume", Usage: "volume level"},
			&cli.FloatFlag{Name: "rate", Usage: "playback rate"},
			&cli.BoolFlag{Name: "state", Usage: "query and print playback state"},
			&cli.DurationFlag{Name: "watch", Usage: "keep printing playback updates for this long"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig(cmd)
			m := device.NewManager(
				device.WithHandshakeTimeout(cfg.HandshakeTimeout),
				device.WithCommandTimeout(cfg.CommandTimeout),
			)
			defer m.Close()

			events, cancel := m.Subscribe()
			defer cancel()
			go func() {
				for ev := range events {
					log.Info("device %s is %s", ev.Device.ID, ev.Status)
				}
			}()
			updates, cancelUpdates := m.SubscribePlayback()
			defer cancelUpdates()

			id, err := resolveDevice(ctx, cmd, m, cfg.DiscoveryTimeout)
			if err != nil {
				return err
			}
			if err := m.ConnectID(ctx, id); err != nil {
				return err
			}
			defer m.Disconnect(id)

			for _, c := range commandsFromFlags(cmd) {
				if err := m.SendCommand(ctx, id, c); err != nil {
					return fmt.Errorf("send %s: %w", c, err)
				}
			}
			if cmd.Bool("state") {
				st, err := m.GetPlaybackState(ctx, id)
				if err != nil {
					return err
				}
				if err := printJSON(st); err != nil {
					return err
				}
			}
			if d := cmd.Duration("watch"); d > 0 {
				watchPlayback(ctx, updates, d)
			}
			return nil
		},
	}
}

// resolveDevice fills the registry, from --address or from one discovery
// window, and returns the id to connect to. Without an id argument a
// single discovered device is picked.
func resolveDevice(ctx context.Context, cmd *cli.Command, m *device.Manager, defTimeout time.Duration) (string, error) {
	id := cmd.Args().First()

	if addr := cmd.String("address"); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return "", fmt.Errorf("bad address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", fmt.Errorf("bad port %q: %w", portStr, err)
		}
		if id == "" {
			id = addr
		}
		m.Refresh([]model.Device{{ID: id, Name: id, Address: host, Port: port, Kind: model.KindCloudTV}})
		return id, nil
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = defTimeout
	}
	found, err := m.Scan(ctx, discovery.NewClient(cmd.String("target")), timeout)
	if err != nil {
		return "", err
	}
	log.Info("discovered %d devices", len(found))

	switch {
	case id != "":
		return id, nil
	case len(found) == 1:
		return found[0].ID, nil
	case len(found) == 0:
		return "", fmt.Errorf("no device found")
	}
	ids := make([]string, 0, len(found))
	for _, d := range found {
		ids = append(ids, d.ID)
	}
	return "", fmt.Errorf("several devices found, pick one of: %s", strings.Join(ids, ", "))
}

func watchPlayback(ctx context.Context, updates <-chan device.PlaybackUpdate, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			fmt.Printf("%s %s %.1f/%.1f\n", u.DeviceID, u.State.Status, u.State.Position, u.State.Duration)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func commandsFromFlags(cmd *cli.Command) []model.CastCommand {
	var out []model.CastCommand
	if u := cmd.String("play"); u != "" {
		out = append(out, model.Play(u, cmd.String("title"), nil))
	}
	if cmd.IsSet("seek") {
		out = append(out, model.Seek(float64(cmd.Float("seek"))))
	}
	if cmd.IsSet("volume") {
		out = append(out, model.SetVolume(float64(cmd.Float("volume"))))
	}
	if cmd.IsSet("rate") {
		out = append(out, model.SetPlaybackRate(float64(cmd.Float("rate"))))
	}
	if cmd.Bool("pause") {
		out = append(out, model.Pause())
	}
	if cmd.Bool("resume") {
		out = append(out, model.Resume())
	}
	if cmd.Bool("stop") {
		out = append(out, model.Stop())
	}
	return out
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "push a cast or a control action to a peer cast receiver",
		ArgsUsage: "<http://host:port>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "media URL"},
			&cli.StringFlag{Name: "title", Usage: "media title"},
			&cli.IntFlag{Name: "aid", Usage: "content id"},
			&cli.IntFlag{Name: "cid", Usage: "part id"},
			&cli.StringFlag{Name: "action", Usage: "control action: play, pause, stop, seek, volume"},
			&cli.FloatFlag{Name: "time", Usage: "seek position for --action seek"},
			&cli.FloatFlag{Name: "level", Usage: "level for --action volume"},
			&cli.IntFlag{Name: "retries", Value: 3, Usage: "retries per request"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			base := cmd.Args().First()
			if base == "" {
				return fmt.Errorf("receiver URL required")
			}
			c := castclient.New(base, int(cmd.Int("retries")))

			switch {
			case cmd.String("url") != "":
				return c.Play(ctx, cmd.String("url"), cmd.String("title"))
			case cmd.Int("aid") > 0:
				return c.PlayContent(ctx, model.VideoMetadata{
					ContentID: int64(cmd.Int("aid")),
					PartID:    int64(cmd.Int("cid")),
					Title:     cmd.String("title"),
				})
			case cmd.String("action") != "":
				params := map[string]any{}
				if cmd.IsSet("time") {
					params["time"] = float64(cmd.Float("time"))
				}
				if cmd.IsSet("level") {
					params["level"] = float64(cmd.Float("level"))
				}
				return c.Control(ctx, cmd.String("action"), params)
			}

			info, err := c.Info(ctx)
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
