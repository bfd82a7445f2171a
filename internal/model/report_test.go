package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestStatusRecord(t *testing.T) {
	tests := []struct {
		name           string
		appendStatus   string
		appendStatuses []string
		wantStatuses   []string
	}{
		{
			"single status record appended",
			"works",
			nil,
			[]string{"works"},
		},
		{
			"multiple status record appended",
			"",
			[]string{"a", "b", "c"},
			[]string{"a", "b", "c"},
		},
		{
			"dup status excluded",
			"",
			[]string{"a", "a", "b", "c"},
			[]string{"a", "b", "c"},
		},
		{
			"empty status excluded",
			"",
			[]string{"a", "", "", "c"},
			[]string{"a", "c"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sr := NewStatusRecord("")

			if tc.appendStatus != "" {
				sr.Append(tc.appendStatus)

				assert.Equal(t, tc.appendStatus, sr.StatusMsgs[0].Msg)
				assert.False(t, sr.StatusMsgs[0].Timestamp.IsZero())
			}

			if tc.appendStatuses != nil {
				for _, s := range tc.appendStatuses {
					sr.Append(s)
				}

				assert.Equal(t, len(tc.wantStatuses), len(sr.StatusMsgs))
				for idx, w := range tc.wantStatuses {
					assert.Equal(t, w, sr.StatusMsgs[idx].Msg)
					assert.False(t, sr.StatusMsgs[idx].Timestamp.IsZero())
				}
			}
		})
	}
}

func TestProcessingReportAdd(t *testing.T) {
	r := NewProcessingReport(uuid.New())

	r.Add(EntryResult{Member: "a.csv", Kind: KindAsset, Outcome: OutcomeAdmitted})
	r.Add(EntryResult{Member: "b.bin", Kind: KindUnrecognized, Outcome: OutcomeRejected, Reason: "unrecognized"})
	r.Add(EntryResult{Member: "c.csv", Kind: KindAsset, Outcome: OutcomeAdmitted})

	assert.Equal(t, Stats{TotalFiles: 3, Processed: 2, Errors: 1}, r.Stats)
	assert.Len(t, r.Entries, 3)
	assert.Equal(t, r.Stats.TotalFiles, r.Stats.Processed+r.Stats.Errors)
}
