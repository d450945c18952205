// Command keygen creates an ed25519 signing key for a tcm node or submitter
// and prints its address.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/pterm/pterm"

	"trustchain.mini/tcm/internal/identity"
)

func main() {
	out := flag.String("out", "tcm_key.pem", "output PEM file")
	flag.Parse()
	if flag.NArg() > 0 {
		*out = flag.Arg(0)
	}

	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))

	id, err := identity.Generate(*out)
	if err != nil {
		logger.Error("failed to generate key", "file", *out, "err", err)
		os.Exit(1)
	}

	pterm.Success.Printfln("Key generated: %s", *out)
	pterm.Info.Printfln("Address: %s", id.Address())
}
