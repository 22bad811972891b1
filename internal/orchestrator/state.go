package orchestrator

import (
	"fmt"

	"stageline/internal/domain"
)

func ensureJobTransition(from, to domain.JobState) error {
	switch from {
	case domain.JobPending:
		if to == domain.JobRunning {
			return nil
		}
	case domain.JobRunning:
		if to == domain.JobCompleted || to == domain.JobBlocked || to == domain.JobFailed {
			return nil
		}
	}
	return fmt.Errorf("invalid job state transition %s -> %s", from, to)
}

// advance panics on an illegal transition; Run only drives legal ones.
func (o *JobOutcome) advance(to domain.JobState) {
	if err := ensureJobTransition(o.State, to); err != nil {
		panic(err)
	}
	o.State = to
}

// runStatus maps the halting job state to the status of the whole run.
func runStatus(s domain.JobState) domain.RunStatus {
	switch s {
	case domain.JobBlocked:
		return domain.RunBlocked
	case domain.JobFailed:
		return domain.RunFailed
	default:
		return domain.RunCompleted
	}
}
