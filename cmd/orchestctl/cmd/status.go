package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Print the current result for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	result, err := fetchResult(jobID)
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Printf("%s: not yet available\n", jobID)
		return nil
	}
	printResult(result)
	return nil
}

// fetchResult reads GET /jobs/{id}/result and returns nil if the job has
// no result yet (still queued or running).
func fetchResult(jobID string) (*jobspec.JobResult, error) {
	var body struct {
		JobID  string             `json:"job_id"`
		Result *jobspec.JobResult `json:"result"`
	}
	if err := postJSON("GET", "/jobs/"+jobID+"/result", nil, &body); err != nil {
		return nil, err
	}
	return body.Result, nil
}

func printResult(r *jobspec.JobResult) {
	fmt.Printf("%s: %s\n", r.JobID, r.Status)
	for _, step := range r.Steps {
		line := fmt.Sprintf("  %-24s %-12s attempts=%d", step.StepID, step.Status, step.Attempts)
		if step.Error != nil {
			line += fmt.Sprintf(" error=%s (%s)", step.Error.Code, step.Error.Message)
		}
		fmt.Println(line)
	}
	if r.Error != nil {
		fmt.Printf("  job error: %s (%s)\n", r.Error.Code, r.Error.Message)
	}
}
