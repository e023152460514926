package main

import (
	"fmt"
	"os"

	"github.com/coderun-ai/orchestrator/cmd/orchestctl/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestctl:", err)
		return 1
	}
	return 0
}
