package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
		os.Exit(1)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "cosmosetl",
		Usage: "Export Cosmos chain data from a CometBFT node into MongoDB",
		Commands: []*cli.Command{
			{
				Name:   "stream",
				Usage:  "Follow the chain head, exporting new heights as they are produced",
				Flags:  streamFlags(),
				Action: stream,
			},
			{
				Name:   "export",
				Usage:  "Export a fixed range of heights",
				Flags:  exportFlags(),
				Action: export,
			},
			{
				Name:  "checkpoint",
				Usage: "Inspect or change a collector's checkpoint",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the checkpointed height",
						Flags:  checkpointFlags(),
						Action: showCheckpoint,
					},
					{
						Name:   "rewind",
						Usage:  "Set the checkpoint to a height, including a lower one",
						Flags:  append(checkpointFlags(), heightFlag()),
						Action: rewindCheckpoint,
					},
					{
						Name:   "remove",
						Usage:  "Delete the checkpoint so the next stream starts from --start-block",
						Flags:  checkpointFlags(),
						Action: removeCheckpoint,
					},
				},
			},
		},
	}
}
