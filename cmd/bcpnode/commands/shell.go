package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// isTerminal reports whether fd is attached to a real TTY, so the shell
// knows whether to print its prompt and banner (piped input/output should
// stay script-friendly, the same check glennswest-ipmiserial makes before
// switching a serial line into interactive mode).
func isTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	return err == nil
}

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"status", "Show every node's queue, battery, and packet counters"},
	{"routes <addr>", "Show one node's routing table"},
	{"send <addr> <payload>", "Originate a payload at a node"},
	{"solar <addr> <value>", "Feed a solar reading into a node's power manager"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive bcpnode shell",
		Long:  "Starts the network in the background and launches a REPL that accepts bcpnode subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go func() {
				if err := runNetwork(ctx); err != nil {
					logger.Error("network stopped with error", "error", err)
				}
			}()

			interactive := isTerminal(int(os.Stdin.Fd()))
			if interactive {
				printShellBanner()
			}
			scanner := bufio.NewScanner(os.Stdin)
			prompt := func() {
				if interactive {
					fmt.Print("bcpnode> ")
				}
			}
			prompt()

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

				prompt()
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		},
	}
}

func printShellBanner() {
	fmt.Println("bcpnode interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Println()
}

func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()
	for _, c := range shellCommands {
		fmt.Printf("  %-26s %s\n", c.name, c.desc)
	}
	fmt.Println()
}
