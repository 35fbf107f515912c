package pipeline

import (
	"testing"

	"github.com/rpattn/formsync/internal/domain"
)

func makeRow(number int, pairs ...string) domain.Row {
	cols := make([]string, 0, len(pairs)/2)
	values := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, pairs[i])
		values[pairs[i]] = pairs[i+1]
	}
	return domain.NewRow(number, cols, values)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		row      domain.Row
		strategy domain.Strategy
		want     domain.Action
	}{
		{"create with org unit", makeRow(1, "org_unit_id", "101"), domain.StrategyCreate, domain.ActionCreate},
		{"create without org unit", makeRow(1, "name", "x"), domain.StrategyCreate, domain.ActionIgnore},
		{"create with empty org unit", makeRow(1, "org_unit_id", ""), domain.StrategyCreate, domain.ActionIgnore},

		{"update with identifiers", makeRow(1, "id", "7", "instanceID", "abc"), domain.StrategyUpdate, domain.ActionUpdate},
		{"update without id", makeRow(1, "instanceID", "abc"), domain.StrategyUpdate, domain.ActionIgnore},
		{"update without instanceID", makeRow(1, "id", "7"), domain.StrategyUpdate, domain.ActionIgnore},

		{"mixed routes rows with id to update", makeRow(1, "id", "7", "instanceID", "abc", "org_unit_id", "101"), domain.StrategyCreateAndUpdate, domain.ActionUpdate},
		{"mixed routes rows without id to create", makeRow(1, "org_unit_id", "101"), domain.StrategyCreateAndUpdate, domain.ActionCreate},

		{"delete with id", makeRow(1, "id", "7"), domain.StrategyDelete, domain.ActionDelete},
		{"delete without id", makeRow(1, "instanceID", "abc"), domain.StrategyDelete, domain.ActionIgnore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Classify(tt.row, tt.strategy)
			if got != tt.want {
				t.Fatalf("Classify() = %s (%s), want %s", got, reason, tt.want)
			}
			if got == domain.ActionIgnore && reason == "" {
				t.Fatal("ignored rows must carry a reason")
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	row := makeRow(1, "id", "7", "instanceID", "abc", "org_unit_id", "101")
	first, _ := Classify(row, domain.StrategyCreateAndUpdate)
	second, _ := Classify(row, domain.StrategyCreateAndUpdate)
	if first != second {
		t.Fatalf("classification changed between calls: %s vs %s", first, second)
	}
}
