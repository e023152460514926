// Package artifacts implements the path-safe, atomic artifact store under
// artifacts/<job_id>/.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// PathTraversalError is returned when a requested write would escape the
// job's artifact root.
type PathTraversalError struct {
	Root string
	Rel  string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path %q escapes artifact root %q", e.Rel, e.Root)
}

// Store writes files under root/<job_id>/, validating that every write
// stays strictly inside that directory and committing via a
// write-temp-then-rename sequence within the same directory.
type Store struct {
	root string
}

// New returns a Store rooted at artifactsRoot (ARTIFACTS_ROOT).
func New(artifactsRoot string) *Store {
	return &Store{root: artifactsRoot}
}

// JobDir returns the resolved artifact directory for a job.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// StepDir returns the resolved artifact directory for one step of a job.
func (s *Store) StepDir(jobID, stepID string) string {
	return filepath.Join(s.JobDir(jobID), "steps", stepID)
}

// resolve validates that jobDir/rel resolves to a path strictly inside
// jobDir and returns the cleaned absolute path.
func resolve(jobDir, rel string) (string, error) {
	absRoot, err := filepath.Abs(jobDir)
	if err != nil {
		return "", err
	}
	target := filepath.Join(absRoot, rel)
	target = filepath.Clean(target)

	// filepath.Join already cleans ".." segments, but a relative path that
	// is entirely ".." components (or starts with them) can still resolve
	// outside the root; guard explicitly.
	relCheck, err := filepath.Rel(absRoot, target)
	if err != nil {
		return "", &PathTraversalError{Root: absRoot, Rel: rel}
	}
	if relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", &PathTraversalError{Root: absRoot, Rel: rel}
	}
	return target, nil
}

// WriteFile atomically writes data to jobDir/rel, creating parent
// directories (0o755) as needed. The write is committed via a temp file
// in the same directory followed by rename, so readers never observe a
// partial file.
func (s *Store) WriteFile(jobDir, rel string, data []byte) error {
	target, err := resolve(jobDir, rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp artifact file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsyncing temp artifact file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp artifact file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("renaming artifact into place: %w", err)
	}
	return nil
}

// WriteJSON marshals v with deterministic (sorted) key order and writes
// it via WriteFile, so repeated writes of equivalent structures produce
// byte-identical content.
func (s *Store) WriteJSON(jobDir, rel string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", rel, err)
	}
	sorted := pretty.Ugly(pretty.PrettyOptions(raw, &pretty.Options{SortKeys: true}))
	return s.WriteFile(jobDir, rel, sorted)
}

// ReadFile reads jobDir/rel, validating the same traversal guard as
// WriteFile. Returns os.ErrNotExist (wrapped) if the file is missing.
func (s *Store) ReadFile(jobDir, rel string) ([]byte, error) {
	target, err := resolve(jobDir, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(target)
}

// ReadJSON reads and unmarshals jobDir/rel into v.
func (s *Store) ReadJSON(jobDir, rel string, v any) error {
	data, err := s.ReadFile(jobDir, rel)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Exists reports whether jobDir/rel exists. It applies the same traversal
// guard as ReadFile and reports false for a path that escapes jobDir.
func (s *Store) Exists(jobDir, rel string) bool {
	target, err := resolve(jobDir, rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(target)
	return err == nil
}

// JSONField reads a single field out of a JSON artifact by gjson path,
// without unmarshaling the whole document. Callers that only need one
// field of a large result.json (a status poll, say) use this instead of
// ReadJSON to avoid paying for the full decode.
func (s *Store) JSONField(jobDir, rel, path string) (gjson.Result, error) {
	data, err := s.ReadFile(jobDir, rel)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(data, path), nil
}

// SetJSONField patches a single field of an existing JSON artifact by
// sjson path and rewrites it atomically, without a full unmarshal into a
// typed struct and re-marshal.
func (s *Store) SetJSONField(jobDir, rel, path string, value any) error {
	data, err := s.ReadFile(jobDir, rel)
	if err != nil {
		return err
	}
	patched, err := sjson.SetBytes(data, path, value)
	if err != nil {
		return fmt.Errorf("patching %s field %s: %w", rel, path, err)
	}
	return s.WriteFile(jobDir, rel, patched)
}

// RequiredStepFiles are the files every completed step's directory
// holds once the runner has finished persisting it, result.json
// included.
var RequiredStepFiles = []string{"report.md", "patch.diff", "logs.txt", "result.json"}

// WorkerRequiredFiles are the files a worker itself must write before
// Run returns (§4.4 step 5); result.json is written by the runner
// afterward and is not the worker's responsibility.
var WorkerRequiredFiles = []string{"report.md", "patch.diff", "logs.txt"}

// MissingStepFiles returns the subset of RequiredStepFiles that are not
// present under stepDir.
func (s *Store) MissingStepFiles(stepDir string) []string {
	return missingFiles(s, stepDir, RequiredStepFiles)
}

// MissingWorkerFiles returns the subset of WorkerRequiredFiles that are
// not present under stepDir.
func (s *Store) MissingWorkerFiles(stepDir string) []string {
	return missingFiles(s, stepDir, WorkerRequiredFiles)
}

func missingFiles(s *Store, stepDir string, required []string) []string {
	var missing []string
	for _, f := range required {
		if !s.Exists(stepDir, f) {
			missing = append(missing, f)
		}
	}
	return missing
}
