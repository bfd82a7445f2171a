package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event severity levels, lower is more severe.
const (
	LevelCritical    = 1
	LevelError       = 2
	LevelWarning     = 3
	LevelInformation = 4
	LevelVerbose     = 5
)

// EventLogRecord is a single operating system event logged on an asset.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type EventLogRecord struct {
	ID        uuid.UUID `json:"id"`
	AssetTag  string    `json:"asset_id"`
	EventID   int       `json:"event_id"`
	Level     int       `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel,omitempty"`
	Message   string    `json:"message,omitempty"`

	// Source is the archive member this record was read from.
	Source string `json:"source,omitempty"`

	// Seq is the admission sequence number, assigned when appended.
	Seq int64 `json:"seq"`
}

// EventSummary holds per level EventID counts for an asset.
//
// Levels maps a level key (level_1, level_2..) to EventID keys (EventID_7) to a count.
type EventSummary struct {
	AssetTag string                    `json:"asset_id"`
	Total    int                       `json:"total"`
	Levels   map[string]map[string]int `json:"levels"`
}

// LevelKey returns the summary key of an event level.
func LevelKey(level int) string {
	return "level_" + strconv.Itoa(level)
}

// EventIDKey returns the summary key of an event identifier.
func EventIDKey(id int) string {
	return "EventID_" + strconv.Itoa(id)
}

// SummarizeEvents counts the Critical, Error and Warning events of an asset by level and EventID,
// less severe levels are not counted.
func SummarizeEvents(tag string, events []*EventLogRecord) EventSummary {
	summary := EventSummary{AssetTag: tag, Levels: map[string]map[string]int{}}

	for level := LevelCritical; level <= LevelWarning; level++ {
		summary.Levels[LevelKey(level)] = map[string]int{}
	}

	for _, e := range events {
		counts, ok := summary.Levels[LevelKey(e.Level)]
		if !ok {
			continue
		}

		counts[EventIDKey(e.EventID)]++
		summary.Total++
	}

	return summary
}
