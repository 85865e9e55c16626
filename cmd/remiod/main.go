package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	remio "github.com/baovirt/remio"
	"github.com/baovirt/remio/internal/config"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "Configuration file (YAML)")
	anonymous := fs.Bool("anonymous", false, "Back device models with anonymous memory instead of physical memory")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if err := run(*configPath, *anonymous); err != nil {
		fmt.Fprintf(os.Stderr, "remiod: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, anonymous bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	trigger := remio.TriggerInterrupt
	if cfg.Trigger == config.TriggerPolling {
		trigger = remio.TriggerPolling
	}

	transport := remio.NewLoopback()
	opts := remio.Options{
		Transport:    transport,
		Trigger:      trigger,
		PollInterval: cfg.PollInterval,
	}
	if anonymous {
		opts.MapShmem = remio.MapAnonymous
	}

	registry, err := remio.New(opts)
	if err != nil {
		return err
	}
	defer registry.Close()
	transport.SetArrivalFunc(func(id uint32) { _ = registry.Kick(id) })

	for _, dm := range cfg.DMs {
		_, err := registry.Create(remio.Info{
			ID:        dm.ID,
			ShmemAddr: dm.ShmemAddr,
			ShmemSize: dm.ShmemSize,
			IRQ:       dm.IRQ,
		})
		if err != nil {
			return fmt.Errorf("create dm %d: %w", dm.ID, err)
		}
		slog.Info("remiod: device model up",
			"dm", dm.ID,
			"shmem", humanize.IBytes(dm.ShmemSize),
			"addr", fmt.Sprintf("%#x", dm.ShmemAddr),
			"irq", dm.IRQ)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// One consumer per device model drains its control client until the
	// registry tears the DM down.
	var g errgroup.Group
	for _, dm := range cfg.DMs {
		model, err := registry.Get(dm.ID)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return serve(model, transport)
		})
	}

	sig := <-stop
	slog.Info("remiod: shutting down", "signal", sig.String())

	if err := registry.Close(); err != nil {
		return err
	}
	return g.Wait()
}

// serve drains control-client requests for one device model. Requests that
// no doorbell consumed end up here; the daemon logs them, fills in reads
// with zero, and completes each one at the boundary so the frontend side
// never stalls.
func serve(dm *remio.DeviceModel, transport remio.Transport) error {
	c := dm.ControlClient()
	id := dm.Info().ID
	for {
		if err := c.Attach(); err != nil {
			if errors.Is(err, remio.ErrDetached) {
				slog.Debug("remiod: control client detached", "dm", id)
				return nil
			}
			return err
		}
		for {
			req, ok := c.NextRequest()
			if !ok {
				break
			}
			if req.Op == remio.OpRead {
				req.Value = 0
			}
			slog.Debug("remiod: control request",
				"dm", id,
				"op", req.Op.String(),
				"addr", fmt.Sprintf("%#x", req.Addr),
				"value", req.Value,
				"width", req.AccessWidth)
			if err := transport.Complete(req); err != nil {
				slog.Error("remiod: complete request",
					"dm", id, "addr", fmt.Sprintf("%#x", req.Addr), "error", err)
			}
		}
	}
}
