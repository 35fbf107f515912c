package domain

import "testing"

func TestSummaryAccountsForEveryOutcome(t *testing.T) {
	results := []RowResult{
		Ok(OutcomeImported),
		Ok(OutcomeImported),
		Ok(OutcomeUpdated),
		Ok(OutcomeDeleted),
		Ignored("missing org_unit_id"),
		Failed("server error"),
	}

	var s Summary
	for _, r := range results {
		s.Add(r)
	}

	want := Summary{Imported: 2, Updated: 1, Ignored: 2, Deleted: 1}
	if s != want {
		t.Fatalf("summary = %+v, want %+v", s, want)
	}
	if s.Total() != len(results) {
		t.Fatalf("Total() = %d, want %d", s.Total(), len(results))
	}
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"CREATE", "UPDATE", "CREATE_AND_UPDATE", "DELETE"} {
		if _, err := ParseStrategy(valid); err != nil {
			t.Errorf("ParseStrategy(%q) error = %v", valid, err)
		}
	}
	if _, err := ParseStrategy("create"); err == nil {
		t.Error("strategies are case sensitive")
	}
	if _, err := ParseStrategy("MERGE"); err == nil {
		t.Error("unknown strategy accepted")
	}
}
