package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/fwip/internal/daemon"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the configured links on a simulated bus",
	Long: `Run every node listed under simulation.nodes as a link on one in-memory
IEEE 1394 bus. The watchdog ticks every watchdog.tick, metrics are served
when enabled and datagrams are captured when tap.enabled is set.

SIGINT and SIGTERM stop the links gracefully, SIGHUP reloads logging.

Examples:
  fwip start -c config.yml
  fwip start -c config.yml -p /run/fwip.pid`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}

		d := daemon.New(cfg, configFile, pidFile)
		if err := d.Start(); err != nil {
			d.Stop()
			exitWithError("failed to start", err)
		}
		if err := d.Run(); err != nil {
			exitWithError("fwip stopped", err)
		}
	},
}

func init() {
	startCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "", "PID file path (none when empty)")
}
