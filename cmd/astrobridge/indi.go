package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"astrobridge/pkg/indi"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

func indiCommand() *cli.Command {
	return &cli.Command{
		Name:  "indi",
		Usage: "INDI server tools",
		Subcommands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "Connect to a server and report its connection health until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Aliases: []string{"s"},
						Usage:   "INDI server address",
						Value:   "localhost:7624",
						EnvVars: []string{"INDI_SERVER"},
					},
					&cli.StringFlag{
						Name:  "device",
						Usage: "Only list the properties of this device on exit",
					},
					&cli.StringFlag{
						Name:    "metrics",
						Usage:   "Serve prometheus metrics on this address, e.g. :9100",
						EnvVars: []string{"ASTROBRIDGE_METRICS"},
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Health report interval",
						Value: 5 * time.Second,
					},
				},
				Action: watch,
			},
		},
	}
}

func watch(c *cli.Context) error {
	db, _, p, err := openStores(c)
	if err != nil {
		return err
	}
	db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	logger := log.WithField("server", c.String("server"))
	client := indi.NewClient(c.String("server"), p,
		indi.WithLogger(logger),
		indi.WithMetrics(indi.NewMetrics(reg, c.String("server"))))
	defer client.Close()

	var wg sync.WaitGroup
	if addr := c.String("metrics"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Debugf("Metrics served on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Could not listen on %s: %v", addr, err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			wg.Wait()
		}()
	}

	if err := client.Connect(ctx); err != nil {
		return err
	}
	logger.Infof("Connected, %d properties of %d devices", client.Registry().Len(), len(client.Registry().Devices()))

	ticker := time.NewTicker(c.Duration("interval"))
	defer ticker.Stop()

	last := client.Health()
	for {
		select {
		case <-ctx.Done():
			printProperties(client, c.String("device"))
			return nil
		case <-ticker.C:
			h := client.Health()
			if h.Phase != last.Phase || h.Failures != last.Failures {
				logger.Infof("Connection %s", h)
			}
			last = h
			if err := client.Err(); err != nil {
				return err
			}
		}
	}
}

func printProperties(client *indi.Client, dev string) {
	devices := client.Registry().Devices()
	if dev != "" {
		devices = []string{dev}
	}
	for _, d := range devices {
		for _, p := range client.Registry().List(d) {
			fmt.Printf("%s\t%s\t%s\n", p.Key(), p.Type, p.State)
			for _, e := range p.Elements {
				v, _ := p.Value(e.Name)
				fmt.Printf("  %s = %v\n", e.Name, v)
			}
		}
	}
}
