package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "permit-relayer",
		Usage: "Gasless token transfers authorized by EIP-2612 permits",
		Description: `Accepts signed permits from token holders and executes the transfers they authorize
from the relayer's own account, optionally deducting a fee.

Commands:
- serve: run the HTTP relayer
- message: build the typed message a holder must sign
- fingerprint: compute the replay registry key of a signed permit`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			serveCommand(),
			messageCommand(),
			fingerprintCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
