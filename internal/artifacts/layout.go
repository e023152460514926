package artifacts

// Job-level fixed artifact names, relative to artifacts/<job_id>/.
const (
	FileJobSpec  = "job.json"
	FileState    = "state.json"
	FileResult   = "result.json"
	FileContext  = "context.json"
	FileReport   = "report.md"
	FilePatch    = "patch.diff"
	FileLogs     = "logs.txt"
)

// StepRelPath returns the path of a step artifact relative to the job's
// artifact directory.
func StepRelPath(stepID, name string) string {
	return "steps/" + stepID + "/" + name
}
