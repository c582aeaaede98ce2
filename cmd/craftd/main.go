package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	createFlags := &CreateFlags{}
	startFlags := &InstanceFlags{}
	stopFlags := &InstanceFlags{}
	killFlags := &InstanceFlags{}
	deleteFlags := &InstanceFlags{}
	statusFlags := &InstanceFlags{}
	logsFlags := &InstanceFlags{}
	commandFlags := &CommandFlags{}
	uploadFlags := &UploadFlags{}
	listFlags := &APIFlags{}

	cmds := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(cmds, createFlags),
		createListCommand(cmds, listFlags),
		createStatusCommand(cmds, statusFlags),
		createStartCommand(cmds, startFlags),
		createStopCommand(cmds, stopFlags),
		createKillCommand(cmds, killFlags),
		createDeleteCommand(cmds, deleteFlags),
		createCommandCommand(cmds, commandFlags),
		createLogsCommand(cmds, logsFlags),
		createUploadCommand(cmds, uploadFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "craftd",
		Short: "Game server instance manager",
		Long: `Craftd manages local game-server instances: per-instance
directories, process supervision, console logs, and console commands.

Examples:
  craftd serve --config=config.toml
  craftd create --name=survival --port=25565 --memory=2G --jar=server.jar
  craftd start --id=survival-a1b2c
  craftd command --id=survival-a1b2c --text="say hello"
  craftd logs --id=survival-a1b2c`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.URL, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "request timeout")
}

func addIDFlag(cmd *cobra.Command, id *string) {
	cmd.Flags().StringVar(id, "id", "", "instance id (required)")
	if err := cmd.MarkFlagRequired("id"); err != nil {
		panic(err)
	}
}

func createCreateCommand(cmds command, f *CreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new instance",
		Long: `Create a new instance: allocates an id and directory, writes the
default configuration files, and records it in the registry.

Examples:
  craftd create --name=survival --port=25565 --memory=2G --jar=server.jar`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Create(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "display name (required)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "server port (required)")
	cmd.Flags().StringVar(&f.Memory, "memory", "", "memory limit, e.g. 2G or 512M")
	cmd.Flags().StringVar(&f.Jar, "jar", "", "uploaded artifact name (required)")
	addAPIFlags(cmd, &f.API)
	for _, name := range []string{"name", "port", "jar"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createListCommand(cmds command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.List(*f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatusCommand(cmds command, f *InstanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show instance runtime status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Status(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createStartCommand(cmds command, f *InstanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an instance",
		Long: `Start an instance's server process. Returns as soon as the process
is spawned; the server may still be loading when this returns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Start(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createStopCommand(cmds command, f *InstanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Request a graceful stop",
		Long: `Write the stop command to the instance's console and return.
The process exits on its own schedule; poll status to confirm, and use
kill if it ignores the request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Stop(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createKillCommand(cmds command, f *InstanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Force-terminate an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Kill(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createDeleteCommand(cmds command, f *InstanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an instance and its directory",
		Long: `Delete an instance record together with its directory. Refused
while the instance has a running process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Delete(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createCommandCommand(cmds command, f *CommandFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Send a console command to a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Command(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	cmd.Flags().StringVar(&f.Text, "text", "", "command text (required)")
	if err := cmd.MarkFlagRequired("text"); err != nil {
		panic(err)
	}
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createLogsCommand(cmds command, f *InstanceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the console log tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Logs(*f)
		},
	}
	addIDFlag(cmd, &f.ID)
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createUploadCommand(cmds command, f *UploadFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a server jar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Upload(*f)
		},
	}
	cmd.Flags().StringVar(&f.File, "file", "", "path to jar file (required)")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	addAPIFlags(cmd, &f.API)
	return cmd
}
