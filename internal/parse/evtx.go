package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/0xrawsec/golang-evtx/evtx"
)

// EventEVTX parses a binary Windows event log file.
//
// Each record is mapped onto the same event shape read from XML exports, the asset
// and the Log maintenance records are derived as EventXML does.
func EventEVTX(member string, data []byte) (result *Result, err error) {
	// the decoder panics on some malformed headers
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, newError(member, "invalid evtx: %v", r)
		}
	}()

	ef, err := evtx.New(bytes.NewReader(data))
	if err != nil {
		return nil, newError(member, "invalid evtx: %s", err)
	}

	var events []*xmlEvent
	var recordErr error

	// the channel is drained so the decoding goroutines exit.
	for m := range ef.FastEvents() {
		if recordErr != nil {
			continue
		}

		ev, err := evtxRecord(m)
		if err != nil {
			recordErr = newError(member, "event %d: %s", len(events)+1, err)
			continue
		}

		events = append(events, ev)
	}

	if recordErr != nil {
		return nil, recordErr
	}

	// records of a file are decoded concurrently and arrive out of order.
	return eventResult(member, events, true)
}

// evtxRecord converts a decoded record to the event schema subset.
func evtxRecord(m *evtx.GoEvtxMap) (*xmlEvent, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}

	if inner, ok := root["Event"].(map[string]any); ok {
		root = inner
	}

	system, _ := root["System"].(map[string]any)
	if system == nil {
		return nil, fmt.Errorf("record without System element")
	}

	ev := &xmlEvent{}
	ev.System.EventID = scalar(system["EventID"])
	ev.System.Level = scalar(system["Level"])
	ev.System.Channel = scalar(system["Channel"])
	ev.System.Computer = scalar(system["Computer"])

	if created, ok := system["TimeCreated"].(map[string]any); ok {
		ev.System.TimeCreated.SystemTime = scalar(created["SystemTime"])
	}

	ev.EventData.Data = eventData(root["EventData"])

	return ev, nil
}

// scalar returns the text of a leaf value, an element with attributes carries its text under Value.
func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case map[string]any:
		return scalar(val["Value"])
	default:
		return fmt.Sprint(val)
	}
}

// eventData returns the name=value pairs of the EventData element sorted by name.
func eventData(v any) []string {
	data, ok := v.(map[string]any)
	if !ok {
		if s := scalar(v); s != "" {
			return []string{s}
		}

		return nil
	}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]string, 0, len(names))

	for _, name := range names {
		value := strings.TrimSpace(scalar(data[name]))
		if value == "" {
			continue
		}

		pairs = append(pairs, name+"="+value)
	}

	return pairs
}
