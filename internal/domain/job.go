package domain

import (
	"path"
	"strings"
	"time"
	"unicode"
)

// Status is the terminal state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Job is one conversion, owned by a single request.
type Job struct {
	ID           string
	Mode         Mode
	InputPath    string
	Format       Format
	OriginalName string
	Size         int64
	CreatedAt    time.Time
	Status       Status
}

// Finish sets the terminal status from the conversion outcome.
func (j *Job) Finish(err error) {
	switch {
	case err == nil:
		j.Status = StatusSucceeded
	case CodeOf(err) == CodeTimeout:
		j.Status = StatusTimedOut
	default:
		j.Status = StatusFailed
	}
}

// AttachmentName is the file name offered to the client: the original base
// name with a .pdf extension. Quotes, backslashes and control characters are
// dropped. Falls back to "document.pdf".
func (j *Job) AttachmentName() string {
	name := strings.ReplaceAll(j.OriginalName, "\\", "/")
	name = path.Base(name)
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r == '/' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		name = "document"
	}
	return name + ".pdf"
}
