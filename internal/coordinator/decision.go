package coordinator

import "time"

// Decision is the per-task outcome of one cycle.
type Decision string

const (
	DecisionSkip           Decision = "skip"
	DecisionWait           Decision = "wait"
	DecisionAdvance        Decision = "advance"
	DecisionDispatch       Decision = "dispatch"
	DecisionDispatchFailed Decision = "dispatch_failed"
	DecisionRequeue        Decision = "requeue"
	DecisionHold           Decision = "hold"
)

// CycleStats summarizes one cycle.
type CycleStats struct {
	CorrelationID string             `json:"correlation_id"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      time.Duration      `json:"duration"`
	Tasks         int                `json:"tasks"`
	JobsSent      int                `json:"jobs_sent"`
	Errors        int                `json:"errors"`
	Decisions     map[Decision]int   `json:"decisions"`
	PerTask       map[int64]Decision `json:"-"`
}

func newCycleStats(correlationID string, started time.Time) CycleStats {
	return CycleStats{
		CorrelationID: correlationID,
		StartedAt:     started,
		Decisions:     make(map[Decision]int),
		PerTask:       make(map[int64]Decision),
	}
}

func (s *CycleStats) record(taskID int64, decision Decision) {
	s.Decisions[decision]++
	s.PerTask[taskID] = decision
}
