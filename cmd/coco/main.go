// Command coco is the terminal-native personal assistant. Run it bare for
// the interactive chat; subcommands manage scheduled tasks and the approval
// outbox.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	workspaceFlag string
	debugFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "coco",
	Short: "COCO - a terminal-native assistant with persistent memory",
	Long: `COCO is a long-running personal assistant living in your terminal.

It remembers: conversations are persisted, distilled into typed facts, and
compressed into summaries that survive restarts. A background scheduler runs
named task templates (news digests, calendar emails, health checks) on
natural-language schedules.

Run without arguments to start chatting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug log files under .coco/logs")

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the COCO version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("coco 0.3.0")
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
