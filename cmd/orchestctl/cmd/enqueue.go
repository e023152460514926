package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

var (
	enqueueFile string
	enqueueSet  []string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a job spec (JSON file or stdin) to the queue",
	RunE:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueFile, "file", "f", "-", "path to a job spec JSON file, or - for stdin")
	enqueueCmd.Flags().StringArrayVar(&enqueueSet, "set", nil, "override a field, as path=value (e.g. --set goal=\"fix the build\"); repeatable")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if enqueueFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(enqueueFile)
	}
	if err != nil {
		return fmt.Errorf("reading job spec: %w", err)
	}

	for _, kv := range enqueueSet {
		path, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: expected path=value", kv)
		}
		data, err = sjson.SetBytes(data, path, value)
		if err != nil {
			return fmt.Errorf("--set %q: %w", kv, err)
		}
	}

	var spec jobspec.JobSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parsing job spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid job spec: %w", err)
	}

	var resp map[string]string
	if err := postJSON("POST", "/jobs", &spec, &resp); err != nil {
		return err
	}
	fmt.Printf("enqueued job %s\n", resp["job_id"])
	return nil
}
