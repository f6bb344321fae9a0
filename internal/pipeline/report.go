package pipeline

import (
	"time"

	"github.com/withObsrvr/top10-publisher/internal/ranking"
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageValidate Stage = "validate"
	StageConvert  Stage = "convert"
	StageBuild    Stage = "build"
	StageSignIn   Stage = "signin"
	StageResolve  Stage = "resolve"
	StageUpload   Stage = "upload"
	StagePublish  Stage = "publish"
	StageWait     Stage = "wait"
)

// Report statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Report is the structured outcome of one run. A failure report always
// names the failing stage and never carries a job outcome of success.
type Report struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Stage   Stage   `json:"stage,omitempty"`
	Error   string  `json:"error,omitempty"`
	Skipped bool    `json:"skipped,omitempty"`
	Details Details `json:"details"`

	err error
}

// Details describes what the run produced.
type Details struct {
	Topic       string `json:"topic"`
	ItemsCount  int    `json:"items_count"`
	Dataset     string `json:"dataset,omitempty"`
	BatchID     string `json:"batch_id,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	JobStatus   string `json:"job_status,omitempty"`
	JobNotes    string `json:"job_notes,omitempty"`
	ExtractPath string `json:"extract_path,omitempty"`
	ArchiveURI  string `json:"archive_uri,omitempty"`
	// ArchiveReplaced is set when a forced re-publish overwrote an
	// earlier archive of the same batch.
	ArchiveReplaced bool          `json:"archive_replaced,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	Items           []ItemSummary `json:"items,omitempty"`
}

// ItemSummary is the short form of a ranked item.
type ItemSummary struct {
	Rank  int     `json:"rank"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Succeeded reports whether the run ended in success.
func (r *Report) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Err returns the underlying error of a failed run, or nil.
func (r *Report) Err() error {
	return r.err
}

func summarize(items []ranking.Item) []ItemSummary {
	out := make([]ItemSummary, 0, len(items))
	for _, item := range items {
		out = append(out, ItemSummary{Rank: item.Rank, Name: item.Name, Score: item.ScoreOrZero()})
	}
	return out
}
