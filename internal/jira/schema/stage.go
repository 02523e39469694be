package schema

// Stage is one state of a sync run.
//
//	Idle -> FetchingUsers -> ReconcilingUsers -> FetchingIssues -> ReconcilingIssues
//	     -> DiffingHistory -> DerivingActivity -> Complete
//
// Failed is terminal and reachable from every other state.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageFetchingUsers     Stage = "fetching_users"
	StageReconcilingUsers  Stage = "reconciling_users"
	StageFetchingIssues    Stage = "fetching_issues"
	StageReconcilingIssues Stage = "reconciling_issues"
	StageDiffingHistory    Stage = "diffing_history"
	StageDerivingActivity  Stage = "deriving_activity"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageIdle:              0,
	StageFetchingUsers:     1,
	StageReconcilingUsers:  2,
	StageFetchingIssues:    3,
	StageReconcilingIssues: 4,
	StageDiffingHistory:    5,
	StageDerivingActivity:  6,
	StageComplete:          7,
}

// CanTransition reports whether a run in stage s may move to next.
// Stages only move forward, except that any non-terminal stage may fail.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

func (s Stage) String() string { return string(s) }
