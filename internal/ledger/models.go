package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"reelswap/internal/services"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusStitching  Status = "stitching"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusStitching,
	StatusFinished,
	StatusFailed,
}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a user supplied string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Clip error codes recorded for degraded clips.
const (
	ClipErrTranscription = "transcription_failed"
	ClipErrLookup        = "lookup_failed"
	ClipErrImageUsed     = "image_already_used"
	ClipErrReplacement   = "replacement_failed"
	ClipErrCrashed       = "clip_crashed"
)

var (
	// ErrJobNotFound is returned when a job id is unknown or has expired.
	ErrJobNotFound = fmt.Errorf("job %w", services.ErrNotFound)
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the job's current status.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrStaleGeneration is returned when a write targets a split generation
	// that has since been replaced.
	ErrStaleGeneration = errors.New("stale split generation")
)

// Job is one end-to-end request.
type Job struct {
	ID         string
	SourceRef  string
	Status     Status
	Generation int
	ClipCount  int
	DoneCount  int
	Error      string
	FinalRef   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// Clip is the ledger view of one clip of a job.
type Clip struct {
	JobID          string
	Index          int
	Generation     int
	HasReplacement *bool
	Error          string
	ImageURL       string
	ReferenceKind  string
	ReferenceLabel string
	SourceURL      string
	Counted        bool
	UpdatedAt      time.Time
}

// Resolved reports whether the clip has a terminal outcome.
func (c Clip) Resolved() bool {
	return c.HasReplacement != nil
}

// UsesReplacement reports whether stitch should read the replacement clip.
func (c Clip) UsesReplacement() bool {
	return c.HasReplacement != nil && *c.HasReplacement
}

// ClipOutcome is the terminal result processClip records for one clip.
type ClipOutcome struct {
	JobID          string
	Index          int
	Generation     int
	HasReplacement bool
	Error          string
	ImageURL       string
	ReferenceKind  string
	ReferenceLabel string
	SourceURL      string
}

// FanIn is the result of the atomic clip completion.
type FanIn struct {
	Done  int
	Total int
	// Counted is false when this clip had already been counted for the
	// generation (queue redelivery).
	Counted bool
	// Ready is true for exactly one caller per generation: the one whose
	// increment moved Done to Total.
	Ready bool
}

// Stats summarises job counts per status.
type Stats map[Status]int
