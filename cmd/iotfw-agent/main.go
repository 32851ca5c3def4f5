package main

import (
	"fmt"
	"os"

	"github.com/dushixiang/iotfw/pkg/agent/config"
	agentservice "github.com/dushixiang/iotfw/pkg/agent/service"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "iotfw-agent",
		Short:        "Device agent: reports health telemetry and applies OTA updates",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newServiceCmd("install", "Install the agent as a system service", (*agentservice.Manager).Install))
	root.AddCommand(newServiceCmd("uninstall", "Remove the agent system service", (*agentservice.Manager).Uninstall))
	root.AddCommand(newServiceCmd("start", "Start the installed service", (*agentservice.Manager).Start))
	root.AddCommand(newServiceCmd("stop", "Stop the installed service", (*agentservice.Manager).Stop))
	root.AddCommand(newStatusCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent (foreground or under a service manager)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			manager, err := agentservice.NewManager(cfg, configPath)
			if err != nil {
				return err
			}
			return manager.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "path to the agent config file")
	return cmd
}

func newServiceCmd(use, short string, action func(*agentservice.Manager) error) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			manager, err := agentservice.NewManager(cfg, configPath)
			if err != nil {
				return err
			}
			if err := action(manager); err != nil {
				return err
			}
			fmt.Printf("%s: done\n", use)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "path to the agent config file")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the installed service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			manager, err := agentservice.NewManager(cfg, configPath)
			if err != nil {
				return err
			}
			status, err := manager.Status()
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "path to the agent config file")
	return cmd
}
