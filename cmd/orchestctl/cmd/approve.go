package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <job_id>",
	Short: "Approve a job waiting at an approval gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("POST", "/jobs/"+args[0]+"/approve", nil, nil); err != nil {
			return err
		}
		fmt.Printf("approved %s\n", args[0])
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <job_id>",
	Short: "Move a stuck job back to pending for reclaim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("POST", "/jobs/"+args[0]+"/unlock", nil, nil); err != nil {
			return err
		}
		fmt.Printf("unlocked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(approveCmd, unlockCmd)
}
