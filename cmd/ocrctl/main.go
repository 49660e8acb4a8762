package main

import (
	"os"

	"github.com/bkose/ocr-relay/cmd/ocrctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
