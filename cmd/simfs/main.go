package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:      "simfs",
		Usage:     "run a single-image i-node filesystem simulator (spec §6.1)",
		ArgsUsage: "IMAGE_PATH",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// run drives the interactive dispatcher against the image named by the
// command's sole positional argument (spec §6.1: "prog <image-path>"). A
// missing argument is the one condition spec §6.5 calls out a non-zero exit
// code for; everything else is reported through the response vocabulary on
// stdout and exits 0 on a clean "q".
func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: simfs <image-path>", 1)
	}

	d := NewDispatcher(c.Args().Get(0), os.Stdin, os.Stdout)
	d.Run()
	return nil
}
