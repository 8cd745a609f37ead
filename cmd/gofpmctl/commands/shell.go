package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"status [--config]", "Show the FPM connection status"},
	{"counters", "Show FPM statistic counters"},
	{"counters reset", "Reset FPM statistic counters"},
	{"address set <ip> [--port N]", "Configure the FPM peer address"},
	{"address unset", "Disable the FPM session"},
	{"nexthop-groups enable|disable", "Control nexthop-group streaming"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive gofpmctl shell",
		Long:  "Launches a simple REPL that accepts gofpmctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			printShellBanner()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("gofpmctl> ")

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "exit" || line == "quit":
					return nil
				case line == "help" || line == "?":
					printShellHelp()
				case line != "":
					args := strings.Fields(line)
					rootCmd.SetArgs(args)

					if err := rootCmd.Execute(); err != nil {
						fmt.Fprintln(os.Stderr, "Error:", err)
					}
				}

				fmt.Print("gofpmctl> ")
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		},
	}
}

func printShellBanner() {
	fmt.Println("gofpmctl interactive shell -- type 'help' for commands, 'exit' to leave")
}

func printShellHelp() {
	for _, c := range shellCommands {
		fmt.Printf("  %-34s %s\n", c.name, c.desc)
	}
}
