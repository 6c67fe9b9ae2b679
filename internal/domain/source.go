package domain

// Source tags the upstream shape a discovery was adapted from.
type Source string

const (
	SourceAuto       Source = ""
	SourceScreener   Source = "screener"
	SourceEnrichment Source = "enrichment"
	SourceCanonical  Source = "canonical"
	SourceColdTape   Source = "cold_tape_seed"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a known, concrete value.
func (s Source) IsValid() bool {
	switch s {
	case SourceScreener, SourceEnrichment, SourceCanonical, SourceColdTape:
		return true
	}
	return false
}
