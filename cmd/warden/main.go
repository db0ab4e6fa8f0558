package main

import (
	"fmt"
	"os"

	"github.com/harun/warden/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// a denial has already been reported on stdout
		if !cli.IsDenied(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
