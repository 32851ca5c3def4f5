package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "iotfw",
		Short:        "IoT fleet telemetry and OTA rollout server",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newDevicesCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newDeployCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
