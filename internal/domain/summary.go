package domain

// Summary accumulates row outcomes over a run. At the end of a run the
// four counters sum to the total row count; failed rows are folded into
// the ignored counter, as only the logs distinguish the two.
type Summary struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Ignored  int `json:"ignored"`
	Deleted  int `json:"deleted"`
}

// Add records one row's terminal outcome.
func (s *Summary) Add(result RowResult) {
	switch result.Outcome {
	case OutcomeImported:
		s.Imported++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeDeleted:
		s.Deleted++
	case OutcomeIgnored, OutcomeFailed:
		s.Ignored++
	}
}

// Total returns the number of rows accounted for.
func (s Summary) Total() int {
	return s.Imported + s.Updated + s.Ignored + s.Deleted
}
