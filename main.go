// Package main is the entry point for fwip, an IP over IEEE 1394 link engine.
package main

import (
	"os"

	"firestige.xyz/fwip/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
