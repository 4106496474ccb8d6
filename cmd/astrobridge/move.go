package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/com"
	"astrobridge/pkg/com/sim"
	"astrobridge/pkg/device"
	"astrobridge/pkg/drivers/zro"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/operation"
	"astrobridge/pkg/policy"
	"astrobridge/pkg/registry"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func moveCommand() *cli.Command {
	return &cli.Command{
		Name:  "move",
		Usage: "Move a device and wait for it; Ctrl-C stops waiting",
		Description: `The device is given by its identity "transport:type:name", e.g.
   indi:focuser:Focuser Simulator, alpaca:dome:10.0.0.5:11111/0,
   com:telescope:ASCOM.Simulator.Telescope or mqtt:dome:zro.

   The target depends on the device type:
     focuser, rotator, filterwheel, dome   a position
     telescope                             "ra,dec" in hours and degrees
     dome (shutter), covercalibrator       "open" or "close"
     any                                   "halt"`,
		ArgsUsage: "<device> <target>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "indi-server",
				Usage:   "INDI server address",
				Value:   "localhost:7624",
				EnvVars: []string{"INDI_SERVER"},
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Use simulated drivers for COM devices",
			},
		},
		Action: move,
	}
}

func move(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("expected <device> <target>", 2)
	}

	id, err := device.ParseIdentity(c.Args().Get(0))
	if err != nil {
		return err
	}

	db, _, p, err := openStores(c)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New(p, log.WithField("component", "registry"))
	defer reg.Close()

	d, closer, err := openDevice(c, db, id, p)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}
	if err := reg.Add(d); err != nil {
		return err
	}

	// The first interrupt only stops the wait, the device is left as is.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	token := device.NewCancelToken()
	context.AfterFunc(sigCtx, token.Cancel)

	ctx := context.Background()
	key := id.String()
	if _, ok := d.(device.Connectable); ok {
		if err := reg.Connect(ctx, key); err != nil {
			return err
		}
	}

	outcome, err := runTarget(ctx, reg, id, c.Args().Get(1), token)
	if err != nil {
		return err
	}
	fmt.Println(outcome)
	if outcome == operation.NotConfirmed {
		return cli.Exit("motion not confirmed before the deadline", 1)
	}
	return nil
}

// openDevice builds the device of id on its transport. The returned
// function releases what the device does not own.
func openDevice(c *cli.Context, db *bolt.DB, id device.Identity, p policy.Policy) (device.Device, func(), error) {
	logger := log.WithField("device", id.String())

	switch id.Transport {
	case device.TransportINDI:
		client := indi.NewClient(c.String("indi-server"), p, indi.WithLogger(logger))
		d, err := indi.NewDevice(client, id, p)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return d, func() { client.Close() }, nil

	case device.TransportAlpaca:
		d, err := alpaca.NewDevice(id, p, alpaca.WithLogger(logger))
		return d, nil, err

	case device.TransportCOM:
		factory := com.DefaultFactory()
		if c.Bool("simulate") {
			factory = sim.NewFactory(sim.Options{Logger: logger})
		}
		d, err := com.NewDevice(id, factory, p, logger)
		return d, nil, err

	case device.TransportMQTT:
		store, err := zro.NewStore(db)
		if err != nil {
			return nil, nil, err
		}
		d, err := zro.NewDriver(id, store, p, logger)
		return d, nil, err

	default:
		return nil, nil, fmt.Errorf("unsupported transport %s", id.Transport)
	}
}

func runTarget(ctx context.Context, reg *registry.Registry, id device.Identity, target string, token *device.CancelToken) (operation.Outcome, error) {
	key := id.String()

	switch target {
	case "halt":
		return operation.Completed, reg.Halt(ctx, key)
	case "open":
		if id.Type == device.TypeCoverCalibrator {
			return reg.OpenCover(ctx, key, token)
		}
		return reg.OpenShutter(ctx, key, token)
	case "close":
		if id.Type == device.TypeCoverCalibrator {
			return reg.CloseCover(ctx, key, token)
		}
		return reg.CloseShutter(ctx, key, token)
	}

	if id.Type == device.TypeTelescope {
		ra, dec, ok := strings.Cut(target, ",")
		if !ok {
			return operation.NotConfirmed, fmt.Errorf("expected \"ra,dec\", got %q", target)
		}
		coords, err := parseCoordinates(ra, dec)
		if err != nil {
			return operation.NotConfirmed, err
		}
		return reg.Slew(ctx, key, coords, token)
	}

	position, err := strconv.ParseFloat(target, 64)
	if err != nil {
		return operation.NotConfirmed, fmt.Errorf("invalid position %q", target)
	}
	return reg.MoveTo(ctx, key, position, token)
}

func parseCoordinates(ra, dec string) (device.Coordinates, error) {
	r, err := indi.ParseNumber(strings.TrimSpace(ra))
	if err != nil {
		return device.Coordinates{}, fmt.Errorf("invalid RA %q: %v", ra, err)
	}
	d, err := indi.ParseNumber(strings.TrimSpace(dec))
	if err != nil {
		return device.Coordinates{}, fmt.Errorf("invalid Dec %q: %v", dec, err)
	}
	return device.Coordinates{RA: r, Dec: d}, nil
}
