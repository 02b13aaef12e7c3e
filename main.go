package main

import (
	"os"

	"github.com/kelveyn/pathd/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
