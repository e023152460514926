package queue

import (
	"os"
	"path/filepath"
	"strings"
)

// findJobFiles returns every file in folder whose stem is exactly jobID,
// or jobID followed by a literal-dot-separated disambiguator
// (jobID + "." + something + ".json"). It deliberately does NOT use a
// bare prefix match, which would incorrectly match "job-12.json" when
// looking for "job-1" (a documented bug in the system this core
// reimplements — see spec §9 Open Questions).
func findJobFiles(folder, jobID string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	exact := jobID + ".json"
	suffixPrefix := jobID + "."

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == exact {
			matches = append(matches, filepath.Join(folder, name))
			continue
		}
		if strings.HasPrefix(name, suffixPrefix) && strings.HasSuffix(name, ".json") {
			// The disambiguator must be a non-empty middle segment:
			// "<jobID>.<ns>.json", not "<jobID>json" or similar.
			middle := strings.TrimSuffix(strings.TrimPrefix(name, suffixPrefix), ".json")
			if middle != "" && !strings.Contains(middle, "/") {
				matches = append(matches, filepath.Join(folder, name))
			}
		}
	}
	return matches, nil
}

// jobFileExistsAnywhere checks all five queue state directories for a
// file belonging to jobID.
func jobFileExistsAnywhere(root, jobID string) (bool, error) {
	for _, dir := range allStateDirs {
		matches, err := findJobFiles(filepath.Join(root, dir), jobID)
		if err != nil {
			return false, err
		}
		if len(matches) > 0 {
			return true, nil
		}
	}
	return false, nil
}
