// Package rsyncstats holds the end-of-transfer statistics report
// (spec.md §4.11, §8.2 Scenario A/B; SPEC_FULL.md §C.7), extending the
// teacher's bare read/written/size counters with the literal/matched
// byte breakdown and match-search counters the expanded spec's test
// scenarios observe.
package rsyncstats

// TransferStats is the report exchanged at the end of a transfer:
// three wire-carried totals (bytes read, bytes written, total file
// size) plus locally-computed counters from the matcher that never
// cross the wire but are useful for logging and tests.
type TransferStats struct {
	TotalRead    int64
	TotalWritten int64
	TotalSize    int64

	LiteralData int64
	MatchedData int64
	Matches     int64
	FalseAlarms int64
}

// Add accumulates per-file matcher statistics into the running totals.
func (s *TransferStats) Add(literalData, matchedData, matches, falseAlarms int64) {
	s.LiteralData += literalData
	s.MatchedData += matchedData
	s.Matches += matches
	s.FalseAlarms += falseAlarms
}
