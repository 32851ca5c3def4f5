package main

import (
	"fmt"

	"github.com/dushixiang/iotfw/internal/adminclient"
	"github.com/dushixiang/iotfw/internal/service"
	"github.com/spf13/cobra"
)

func addServerFlags(cmd *cobra.Command, serverURL *string, insecure *bool) {
	cmd.Flags().StringVarP(serverURL, "server", "s", "https://127.0.0.1:8443", "server base URL")
	cmd.Flags().BoolVarP(insecure, "insecure", "k", true, "skip TLS certificate verification")
}

func newDevicesCmd() *cobra.Command {
	var serverURL string
	var insecure bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the fleet known to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := adminclient.New(serverURL, insecure).Devices()
			if err != nil {
				return err
			}

			fmt.Printf("%-15s %-10s %-10s %-8s %-8s %s\n", "ID", "STATUS", "VERSION", "CPU%", "MEM%", "IP")
			for id, d := range devices {
				fmt.Printf("%-15s %-10s %-10s %-8.1f %-8.1f %s\n", id, d.Status, d.Version, d.CPU, d.Mem, d.IP)
			}
			return nil
		},
	}

	addServerFlags(cmd, &serverURL, &insecure)
	return cmd
}

func newStatsCmd() *cobra.Command {
	var serverURL string
	var insecure bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fleet stats and recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := adminclient.New(serverURL, insecure).Stats()
			if err != nil {
				return err
			}

			fmt.Printf("devices:   %d\n", stats.Total)
			fmt.Printf("anomalies: %d\n", stats.Anomalies)
			fmt.Println("recent events (newest first):")
			for _, line := range stats.Log {
				fmt.Println("  " + line)
			}
			return nil
		},
	}

	addServerFlags(cmd, &serverURL, &insecure)
	return cmd
}

func newDeployCmd() *cobra.Command {
	var serverURL string
	var insecure bool

	cmd := &cobra.Command{
		Use:   "deploy <device-id>",
		Short: "Request an OTA rollout for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := adminclient.New(serverURL, insecure).Deploy(args[0])
			if err != nil {
				return err
			}

			switch result.Status {
			case service.OutcomeBlocked:
				fmt.Printf("BLOCKED: %s\n", result.Reason)
			case service.OutcomeSkipped:
				fmt.Printf("SKIPPED: %s\n", result.Reason)
			case service.OutcomeInitiated:
				fmt.Printf("INITIATED: update to v%s dispatched to %s\n", result.TargetVersion, result.TargetIP)
			default:
				fmt.Printf("unexpected response: %+v\n", result)
			}
			return nil
		},
	}

	addServerFlags(cmd, &serverURL, &insecure)
	return cmd
}
