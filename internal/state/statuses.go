package state

// JobStatus is the queue-level lifecycle of one enqueued job row.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusSucceeded  JobStatus = "succeeded"
	StatusFailed     JobStatus = "failed"
	StatusRetrying   JobStatus = "retrying"
	StatusDead       JobStatus = "dead"
)

func (s JobStatus) String() string {
	return string(s)
}

var AllStatuses = []JobStatus{
	StatusQueued,
	StatusProcessing,
	StatusSucceeded,
	StatusFailed,
	StatusRetrying,
	StatusDead,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusQueued, To: StatusProcessing},
	{From: StatusProcessing, To: StatusSucceeded},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusFailed, To: StatusRetrying},
	{From: StatusRetrying, To: StatusProcessing},
	{From: StatusFailed, To: StatusDead},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// RunState is the batch engine's view of one logical run across invocations.
type RunState string

const (
	RunNew          RunState = "new"
	RunScanning     RunState = "scanning"
	RunPageComplete RunState = "page_complete"
	RunAllScanned   RunState = "all_scanned"
	RunRetryPending RunState = "retry_pending"
	RunDone         RunState = "done"
	RunAbandoned    RunState = "abandoned"
)

func (s RunState) String() string {
	return string(s)
}

// IsTerminal reports whether no further invocation may touch the run.
func (s RunState) IsTerminal() bool {
	return s == RunDone || s == RunAbandoned
}

// validRunTransitions covers a single invocation. RetryPending ends the
// invocation; the continuation starts again from RunNew.
var validRunTransitions = map[RunState][]RunState{
	RunNew:          {RunScanning, RunDone, RunAbandoned},
	RunScanning:     {RunPageComplete, RunAllScanned},
	RunPageComplete: {RunScanning, RunDone},
	RunAllScanned:   {RunDone, RunRetryPending},
}

func IsValidRunTransition(from, to RunState) bool {
	for _, next := range validRunTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
