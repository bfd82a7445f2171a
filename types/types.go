package types

import (
	"encoding/json"
	"time"
)

const (
	Version int32 = 1
)

// ReportMessage is the canonical structure for publishing the processing report of a batch
type ReportMessage struct {
	PublishedAt time.Time       `json:"published"`
	Source      string          `json:"source"`
	BatchID     string          `json:"batchID"`
	TraceID     string          `json:"traceID,omitempty"`
	SpanID      string          `json:"spanID,omitempty"`
	State       string          `json:"state"`
	Report      json.RawMessage `json:"report"`
	MsgVersion  int32           `json:"msgVersion"`
}

// MustBytes sets the version field of the ReportMessage so any callers don't have
// to deal with it. It will panic if we cannot serialize to JSON for some reason.
func (m *ReportMessage) MustBytes() []byte {
	m.MsgVersion = Version
	byt, err := json.Marshal(m)
	if err != nil {
		panic("unable to serialize report message: " + err.Error())
	}
	return byt
}
