// Package cmd holds the fwip command line: start, validate and version.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/fwip/internal/config"
)

// configFile is the --config flag shared by every subcommand.
var configFile string

var rootCmd = &cobra.Command{
	Use:   "fwip",
	Short: "fwip - IP over IEEE 1394 link engine",
	Long: `fwip carries IPv4 and IPv6 datagrams over an IEEE 1394 serial bus
(RFC 2734, RFC 3146). It resolves addresses with ARP-1394 and neighbor
discovery, fragments and reassembles datagrams, and negotiates multicast
channels with MCAP.

The start command runs the configured nodes on an in-memory bus.`,
	SilenceUsage: true,
}

// Execute runs the command selected by os.Args.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (built-in defaults when empty)")

	rootCmd.AddCommand(startCmd, validateCmd, versionCmd)
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.GlobalConfig, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// exitWithError reports a failed command on stderr and exits 1.
func exitWithError(msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	fmt.Fprintln(os.Stderr, "fwip:", msg)
	os.Exit(1)
}
