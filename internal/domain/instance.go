package domain

import "fmt"

// Strategy is the pipeline-level import strategy selected by the caller.
type Strategy string

const (
	StrategyCreate          Strategy = "CREATE"
	StrategyUpdate          Strategy = "UPDATE"
	StrategyCreateAndUpdate Strategy = "CREATE_AND_UPDATE"
	StrategyDelete          Strategy = "DELETE"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCreate, StrategyUpdate, StrategyCreateAndUpdate, StrategyDelete:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown import strategy %q", s)
}

// Action is the per-row classification produced by the strategy router.
// It is a closed set; every consumer switches exhaustively over it.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionIgnore Action = "IGNORED"
)

// Instance is the unit produced for one valid row: the classification,
// the enriched document and the identifiers the upload protocol needs.
type Instance struct {
	Action    Action
	UUID      string // canonical uuid, without the "uuid:" prefix
	TargetID  int64  // remote numeric id, UPDATE/DELETE only
	OrgUnitID int64
	XML       []byte // serialized document, nil for DELETE
	FileName  string
	Latitude  *float64
	Longitude *float64
	Altitude  *float64
	Accuracy  *float64
}

// Outcome is the terminal state of one row.
type Outcome string

const (
	OutcomeImported Outcome = "imported"
	OutcomeUpdated  Outcome = "updated"
	OutcomeDeleted  Outcome = "deleted"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeFailed   Outcome = "failed"
)

// RowResult carries a row's terminal state across stage boundaries. No
// stage signals per-row problems with errors; they all return a RowResult
// so that one bad row never aborts the batch.
type RowResult struct {
	Outcome Outcome
	Reason  string
}

// Ok marks a row as having reached its strategy's success outcome.
func Ok(outcome Outcome) RowResult {
	return RowResult{Outcome: outcome}
}

// Ignored marks a row as skipped for a business reason.
func Ignored(reason string) RowResult {
	return RowResult{Outcome: OutcomeIgnored, Reason: reason}
}

// Failed marks a row as failed by a remote or transport error.
func Failed(reason string) RowResult {
	return RowResult{Outcome: OutcomeFailed, Reason: reason}
}
