package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "Transfer bridged tokens from NEAR back to Ethereum",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			{
				Name:   "transfer",
				Usage:  "Run a transfer, resuming from the journal if one is in progress",
				Flags:  transferFlags(),
				Action: transferAction,
			},
			{
				Name:   "status",
				Usage:  "Print the checkpoint of the transfer in progress",
				Action: status,
			},
			{
				Name:   "remove",
				Usage:  "Delete the journal of the transfer in progress",
				Action: remove,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
