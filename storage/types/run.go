package types

import "time"

type RunState string

const (
	RunStateFetching    RunState = "FETCHING"
	RunStateNormalizing RunState = "NORMALIZING"
	RunStatePersisting  RunState = "PERSISTING"
	RunStateDeriving    RunState = "DERIVING"
	RunStateDone        RunState = "DONE"
	RunStateFailed      RunState = "FAILED"
)

func (r RunState) String() string {
	return string(r)
}

// SourceReport is the per-source part of a run summary
type SourceReport struct {
	Fetch        *FetchResult `json:"fetch"`
	Source       Source       `json:"source"`
	PersistError string       `json:"persist_error,omitempty"`
	Written      int          `json:"written"`
	Skipped      int          `json:"skipped"`
	Dropped      int          `json:"dropped"` // invalid listings removed during normalization
}

// LadderInputs records which prices the ladder was derived from
type LadderInputs struct {
	HighSource    Source  `json:"high_source"`
	LowSource     Source  `json:"low_source"`
	HighPrice     float64 `json:"high_price"`
	LowPrice      float64 `json:"low_price"`
	HighFromStore bool    `json:"high_from_store"`
	LowFromStore  bool    `json:"low_from_store"`
}

// RunSummary is handed to the export collaborators once a run completes
type RunSummary struct {
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	BaseRate          *ExchangeRate   `json:"base_rate,omitempty"`
	LadderInputs      *LadderInputs   `json:"ladder_inputs,omitempty"`
	RunID             string          `json:"run_id"`
	State             RunState        `json:"state"`
	Token             Currency        `json:"token"`
	Side              Side            `json:"side"`
	DerivationSkipped string          `json:"derivation_skipped,omitempty"`
	Error             string          `json:"error,omitempty"`
	Sources           []*SourceReport `json:"sources"`
	Ladder            []LadderEntry   `json:"ladder"`
}

// Report returns the report for the given source, if any
func (r *RunSummary) Report(source Source) *SourceReport {
	for _, report := range r.Sources {
		if report.Source == source {
			return report
		}
	}

	return nil
}
