package main

import (
	"context"
	"fmt"
	"time"

	"astrobridge/pkg/alpaca"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

func alpacaCommand() *cli.Command {
	return &cli.Command{
		Name:  "alpaca",
		Usage: "Alpaca server tools",
		Subcommands: []*cli.Command{
			{
				Name:  "discover",
				Usage: "Find Alpaca servers and list their devices",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "target",
						Usage: "Discovery broadcast address",
						Value: "255.255.255.255",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Discovery port",
						Value: alpaca.DiscoveryPort,
					},
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "How long to collect replies",
						Value: 2 * time.Second,
					},
				},
				Action: discover,
			},
		},
	}
}

func discover(c *cli.Context) error {
	db, _, p, err := openStores(c)
	if err != nil {
		return err
	}
	db.Close()

	ctx := context.Background()
	d := alpaca.NewDiscoverer(c.String("target"), c.Int("port"), log.WithField("component", "discovery"))
	endpoints, err := d.Discover(ctx, c.Duration("wait"))
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		log.Info("No Alpaca server answered")
		return nil
	}

	for _, addr := range endpoints {
		client := alpaca.NewClient(addr)
		desc, err := client.Description(ctx, p.PropertyRead)
		if err != nil {
			log.Warnf("%s: %v", addr, err)
			continue
		}
		fmt.Printf("%s\t%s (%s)\n", addr, desc.Name, desc.Manufacturer)

		devices, err := client.ConfiguredDevices(ctx, p.PropertyRead)
		if err != nil {
			log.Warnf("%s: %v", addr, err)
			continue
		}
		for _, info := range devices {
			id, err := info.Identity(addr)
			if err != nil {
				log.Warnf("%s: %v", addr, err)
				continue
			}
			fmt.Printf("  %s\t%s\n", id, info.Name)
		}
	}
	return nil
}
