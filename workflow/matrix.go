package workflow

// Entry is one matrix entry: the parameters of a single job.
type Entry struct {
	Index         int    `json:"index"`
	PythonVersion string `json:"python_version"`
}

func (e Entry) String() string {
	return "python-" + e.PythonVersion
}

// Entries returns the matrix entries in the order they were
// configured. Validation guarantees each version appears once.
func (w *Workflow) Entries() []Entry {
	entries := make([]Entry, 0, len(w.Strategy.Matrix.PythonVersion))
	for i, v := range w.Strategy.Matrix.PythonVersion {
		entries = append(entries, Entry{Index: i, PythonVersion: v})
	}

	return entries
}
