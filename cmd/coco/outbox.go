package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Review external actions held for approval",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.scheduler.Outbox().Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("outbox is empty")
			return nil
		}
		for _, e := range pending {
			payload, _ := json.Marshal(e.Payload)
			fmt.Printf("%s  %-14s from %-20s %s\n  %s\n",
				e.ID[:8], e.ToolName, e.Origin, e.CreatedAt.Format("Jan 2 15:04"), payload)
		}
		return nil
	},
}

var outboxApproveCmd = &cobra.Command{
	Use:   "approve [id-prefix]",
	Short: "Approve an entry and perform the deferred call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.scheduler.Outbox().Approve(context.Background(), a.registry, args[0])
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("approved, but %s failed: %s", res.ToolName, res.ErrorMessage)
		}
		fmt.Println(res.Value)
		return nil
	},
}

var outboxRejectCmd = &cobra.Command{
	Use:   "reject [id-prefix]",
	Short: "Reject an entry without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(workspaceFlag)
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.scheduler.Outbox().Reject(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("rejected %s (%s)\n", entry.ToolName, entry.ID[:8])
		return nil
	},
}

func init() {
	outboxCmd.AddCommand(outboxListCmd, outboxApproveCmd, outboxRejectCmd)
}
