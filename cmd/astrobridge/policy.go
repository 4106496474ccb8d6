package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	cli "github.com/urfave/cli/v2"
)

func policyCommand() *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Show or change the stored timeout and backoff policy",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective policy",
				Action: func(c *cli.Context) error {
					db, _, p, err := openStores(c)
					if err != nil {
						return err
					}
					defer db.Close()

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					for _, f := range p.Fields() {
						fmt.Fprintf(w, "%s\t%s\n", f.Name, f.Value)
					}
					return w.Flush()
				},
			},
			{
				Name:      "set",
				Usage:     "Store a policy value, e.g. \"policy set dome_slew 10m\"",
				ArgsUsage: "<field> <value>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("expected <field> <value>", 2)
					}

					db, store, _, err := openStores(c)
					if err != nil {
						return err
					}
					defer db.Close()

					p, err := store.Get()
					if err != nil {
						return err
					}
					if err := p.SetField(c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					return store.Set(p)
				},
			},
		},
	}
}
