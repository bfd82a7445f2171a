package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of an archive entry.
type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeRejected Outcome = "rejected"
)

// EntryResult records what happened to a single archive member.
type EntryResult struct {
	Member    string  `json:"member"`
	Kind      Kind    `json:"kind"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
	// Records is the count of records admitted from this entry.
	Records int `json:"records,omitempty"`
}

// Stats are the upload counters, Processed + Errors always equals TotalFiles.
type Stats struct {
	TotalFiles int `json:"total_files"`
	Processed  int `json:"processed"`
	Errors     int `json:"errors"`
}

// ProcessingReport is produced once per upload and is not persisted.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type ProcessingReport struct {
	BatchID     uuid.UUID     `json:"batch_id"`
	Stats       Stats         `json:"stats"`
	Entries     []EntryResult `json:"entries"`
	Status      StatusRecord  `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// NewProcessingReport returns a report for the batch with no entries.
func NewProcessingReport(batchID uuid.UUID) *ProcessingReport {
	return &ProcessingReport{
		BatchID:   batchID,
		Entries:   []EntryResult{},
		Status:    NewStatusRecord("batch initialized"),
		StartedAt: time.Now(),
	}
}

// Add records an entry result, updating the counters.
func (r *ProcessingReport) Add(result EntryResult) {
	r.Stats.TotalFiles++

	if result.Outcome == OutcomeAdmitted {
		r.Stats.Processed++
	} else {
		r.Stats.Errors++
	}

	r.Entries = append(r.Entries, result)
}

func NewStatusRecord(s string) StatusRecord {
	sr := StatusRecord{}
	if s == "" {
		return sr
	}

	sr.Append(s)

	return sr
}

type StatusRecord struct {
	StatusMsgs []StatusMsg `json:"records"`
}

type StatusMsg struct {
	Timestamp time.Time `json:"ts,omitempty"`
	Msg       string    `json:"msg,omitempty"`
}

func (sr *StatusRecord) Append(s string) {
	if s == "" {
		return
	}

	for _, r := range sr.StatusMsgs {
		if r.Msg == s {
			return
		}
	}

	if len(sr.StatusMsgs) > 9 {
		sr.StatusMsgs = sr.StatusMsgs[1:]
	}

	n := StatusMsg{Timestamp: time.Now(), Msg: s}

	sr.StatusMsgs = append(sr.StatusMsgs, n)
}

func (sr *StatusRecord) Last() string {
	if len(sr.StatusMsgs) == 0 {
		return ""
	}

	return sr.StatusMsgs[len(sr.StatusMsgs)-1].Msg
}

func (sr *StatusRecord) MustMarshal() json.RawMessage {
	b, err := json.Marshal(sr)
	if err != nil {
		panic(err)
	}

	return b
}
