package main

import (
	"fmt"
	"os"

	"astrobridge/pkg/policy"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

// openStores opens the database and returns the stored policy with the
// command line overrides applied.
func openStores(c *cli.Context) (*bolt.DB, *policy.Store, policy.Policy, error) {
	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return nil, nil, policy.Policy{}, fmt.Errorf("failed to open database: %v", err)
	}

	store, err := policy.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, policy.Policy{}, fmt.Errorf("failed to create policy store: %v", err)
	}

	p, err := store.Get()
	if err != nil {
		db.Close()
		return nil, nil, policy.Policy{}, fmt.Errorf("failed to read policy: %v", err)
	}

	if c.IsSet("poll-interval") {
		p.PollInterval = c.Duration("poll-interval")
	}
	if c.IsSet("keepalive") {
		p.Keepalive = c.Duration("keepalive")
	}
	if err := p.Validate(); err != nil {
		db.Close()
		return nil, nil, policy.Policy{}, err
	}
	return db, store, p, nil
}

func main() {
	app := cli.App{
		Name:  "astrobridge",
		Usage: "Drive INDI, Alpaca, COM and MQTT astronomy devices",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Configuration database",
				Value:   "astrobridge.db",
				EnvVars: []string{"ASTROBRIDGE_DB"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Override the stored poll interval",
				EnvVars: []string{"ASTROBRIDGE_POLL_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:    "keepalive",
				Usage:   "Override the stored INDI keepalive interval",
				EnvVars: []string{"ASTROBRIDGE_KEEPALIVE"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			policyCommand(),
			indiCommand(),
			alpacaCommand(),
			moveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
