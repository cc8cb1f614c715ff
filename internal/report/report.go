package report

import (
	"encoding/json"
	"io"
)

// FileEntry fetch outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Report is the single document a run emits. A search that matches nothing
// produces the minimal form, query and count only, so the echo fields are
// omitted when empty.
type Report struct {
	Query       string    `json:"query"`
	Count       int       `json:"count"`
	Repository  string    `json:"repository,omitempty"`
	Status      string    `json:"status,omitempty"`
	MergedAfter string    `json:"merged_after,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	Changes     []*Change `json:"changes"`
	DryRun      bool      `json:"dry_run,omitempty"`
}

// Change is one merged change with every file its current revision touched.
// Error is set when the file listing could not be fetched; the change is
// still reported, with no files attached.
type Change struct {
	ID         string          `json:"id"`
	Subject    string          `json:"subject"`
	Status     string          `json:"status"`
	Owner      json.RawMessage `json:"owner"`
	Created    string          `json:"created"`
	Updated    string          `json:"updated"`
	Submitted  string          `json:"submitted"`
	RevisionID string          `json:"revision_id"`
	Files      []*FileEntry    `json:"files"`
	Error      string          `json:"error,omitempty"`
}

// FileEntry is the fetch outcome for one modified file. Diff holds the
// parsed diff (json.RawMessage) when the body was valid JSON, the verbatim
// response text when it was not, and nil when the fetch failed. ErrorCode
// carries the HTTP status of a rejected diff request; Error carries the
// message of a failed one.
type FileEntry struct {
	Path      string      `json:"path"`
	Status    string      `json:"status"`
	Diff      interface{} `json:"diff"`
	ErrorCode int         `json:"error_code,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Write serializes the report as indented JSON. HTML escaping is off and
// non-ASCII text is kept literal, so subject lines and owner names
// round-trip unchanged.
func (r *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
