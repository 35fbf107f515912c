package pipeline

import "github.com/rpattn/formsync/internal/domain"

// Classify maps a row to its per-row action under the pipeline strategy.
// It is a pure function and runs strictly before validation, so that the
// correct required-column set is checked for the action that will execute.
func Classify(row domain.Row, strategy domain.Strategy) (domain.Action, string) {
	switch strategy {
	case domain.StrategyCreate:
		if !row.Has(domain.ColumnOrgUnitID) {
			return domain.ActionIgnore, "missing org_unit_id"
		}
		return domain.ActionCreate, ""

	case domain.StrategyUpdate:
		if !row.Has(domain.ColumnID) || !row.Has(domain.ColumnInstanceID) {
			return domain.ActionIgnore, "missing id or instanceID"
		}
		return domain.ActionUpdate, ""

	case domain.StrategyCreateAndUpdate:
		if !row.Has(domain.ColumnID) {
			return domain.ActionCreate, ""
		}
		return domain.ActionUpdate, ""

	case domain.StrategyDelete:
		if !row.Has(domain.ColumnID) {
			return domain.ActionIgnore, "missing id"
		}
		return domain.ActionDelete, ""
	}

	return domain.ActionIgnore, "unknown strategy"
}
