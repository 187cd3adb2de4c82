package main

import (
	"os"

	"sticker-convert/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
