package main

import (
	"os"

	"github.com/bianoble/flacm/cmd/flacm/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
