package domain

import "time"

// Run modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Terminal run states.
const (
	StateDone   = "DONE"
	StateFailed = "FAILED"
)

// RunSummary reports what one sync run did. It is returned for failed runs
// too, with State set to FAILED and ErrorKind naming the originating error.
type RunSummary struct {
	RunID        string     `json:"run_id"`
	CollectionID string     `json:"collection_id"`
	Mode         string     `json:"mode"`
	Cursor       *time.Time `json:"cursor,omitempty"`

	Fetched             int `json:"fetched"`
	Normalized          int `json:"normalized"`
	NormalizationFailed int `json:"normalization_failed"`
	ValidationRejected  int `json:"validation_rejected"`
	PaymentsSkipped     int `json:"payments_skipped"`
	PaymentsRejected    int `json:"payments_rejected"`

	TransactionsInserted int `json:"transactions_inserted"`
	PaymentsInserted     int `json:"payments_inserted"`
	Superseded           int `json:"superseded"`
	PaymentsSuperseded   int `json:"payments_superseded"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	State      string    `json:"state"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Inserted is the total number of rows written as new current versions.
func (s RunSummary) Inserted() int {
	return s.TransactionsInserted + s.PaymentsInserted
}
