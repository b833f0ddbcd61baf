package constants

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // record created, task queued
	JobStatusProcessing JobStatus = "processing" // claimed by a worker
	JobStatusDuplicate  JobStatus = "duplicate"  // terminal: same content already owned by another job
	JobStatusCompleted  JobStatus = "completed"  // terminal: extracted and relocated
	JobStatusFailed     JobStatus = "failed"     // retried by the result consumer until the cap
)

var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusDuplicate,
	JobStatusCompleted,
	JobStatusFailed,
}

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether a worker attempt may end in s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDuplicate, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

type transition struct {
	from JobStatus
	to   JobStatus
}

var validTransitions = map[transition]struct{}{
	{JobStatusPending, JobStatusProcessing}:   {},
	{JobStatusProcessing, JobStatusDuplicate}: {},
	{JobStatusProcessing, JobStatusCompleted}: {},
	{JobStatusProcessing, JobStatusFailed}:    {},
	{JobStatusFailed, JobStatusPending}:       {},
}

// CanTransition reports whether the lifecycle allows moving from -> to.
func CanTransition(from, to JobStatus) bool {
	_, ok := validTransitions[transition{from, to}]
	return ok
}

// ParseJobStatus maps a stored string back to a JobStatus.
func ParseJobStatus(s string) (JobStatus, bool) {
	for _, st := range AllJobStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}
