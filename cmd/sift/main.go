package main

import (
	"os"

	"github.com/Lutra-Fs/sift/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
