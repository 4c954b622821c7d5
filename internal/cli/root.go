// Package cli wires the maestro commands: the daemon, the agent-side
// socket commands, and the attach viewer.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/josephschmitt/maestro/internal/buildinfo"
	"github.com/josephschmitt/maestro/internal/debug"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"

	styleBoldCyan  = "\033[1;36m"
	styleBoldWhite = "\033[1;37m"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Supervise AI coding agents for a kanban project tracker",
	Long: styleBoldCyan + `maestro` + colorReset + ` v` + buildinfo.Current().Version + `

A local daemon that supervises long-running AI coding-agent processes on
behalf of a kanban-style project tracker: it spawns agent CLIs per card,
streams their output, serves a per-project Unix socket the agents call
back into, and publishes a structured event bus over WebSocket.

` + colorBold + `Getting Started:` + colorReset + `
  maestro daemon                  Run the supervision daemon
  maestro projects                List projects
  maestro attach <workspace-id>   Watch a running agent

` + colorBold + `Inside an agent session` + colorReset + ` (MAESTRO_SOCKET set):
  maestro question "Which DB?"    Surface an open question
  maestro set-status in-review    Move the card
  maestro add-artifact --file plan.md`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.maestro/debug/")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "maestro starting",
			"version", bi.Version,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

// Execute runs the root command. Fatal setup errors exit nonzero.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
