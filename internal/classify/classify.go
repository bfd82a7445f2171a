// Package classify assigns archive members to a record kind by name and first bytes.
package classify

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/metal-toolbox/pms/internal/model"
)

// SniffLen is the count of leading member bytes inspected.
const SniffLen = 512

const (
	WorkTypeDiskTask   = "disk,task"
	WorkTypeLogProcess = "log,process"

	// EventNamespace is the Windows event schema namespace carried by event log XML exports.
	EventNamespace = "http://schemas.microsoft.com/win/2004/08/events/event"
)

var (
	datePrefix = regexp.MustCompile(`^(\d{6})_(.+)$`)

	zipMagic  = []byte("PK\x03\x04")
	evtxMagic = []byte("ElfFile\x00")
)

// Layout is a member path in the field collection layout
//
//	<work_type>/<system_group>/<asset>/<YYMMDD>_<file>
type Layout struct {
	WorkType    string
	SystemGroup string
	Asset       string
	// Date is the YYMMDD file name prefix.
	Date string
	// File is the file name with the date prefix removed.
	File string
	Ext  string
}

// ParseLayout returns the Layout of the member name and true if the name follows the field collection layout.
func ParseLayout(name string) (Layout, bool) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) < 4 {
		return Layout{}, false
	}

	workType := strings.ToLower(parts[0])
	if workType != WorkTypeDiskTask && workType != WorkTypeLogProcess {
		return Layout{}, false
	}

	matches := datePrefix.FindStringSubmatch(parts[len(parts)-1])
	if matches == nil {
		return Layout{}, false
	}

	if parts[1] == "" || parts[2] == "" {
		return Layout{}, false
	}

	return Layout{
		WorkType:    workType,
		SystemGroup: parts[1],
		Asset:       parts[2],
		Date:        matches[1],
		File:        matches[2],
		Ext:         strings.ToLower(path.Ext(matches[2])),
	}, true
}

// Classify returns the record kind for the member from its name and leading bytes,
// at most SniffLen bytes of data are inspected.
//
// JSON members are the exception, they are classified by the keys of their first
// record which may extend past SniffLen when a value is long.
//
// Every member maps to exactly one kind, model.KindUnrecognized is the catch all.
func Classify(name string, data []byte) model.Kind {
	if layout, ok := ParseLayout(name); ok {
		switch layout.Ext {
		case ".xml", ".evtx":
			return model.KindEvent
		case ".txt", ".log":
			return model.KindMaintenance
		default:
			return model.KindUnrecognized
		}
	}

	ext := strings.ToLower(path.Ext(name))
	if ext == ".json" {
		return byColumns(firstRecordKeys(data))
	}

	sniff := data
	if len(sniff) > SniffLen {
		sniff = sniff[:SniffLen]
	}

	switch ext {
	case ".csv":
		return byColumns(csvHeader(sniff))
	case ".xlsx":
		if bytes.HasPrefix(sniff, zipMagic) {
			return model.KindAsset
		}
	case ".xml":
		if bytes.Contains(sniff, []byte(EventNamespace)) {
			return model.KindEvent
		}
	case ".evtx":
		if bytes.HasPrefix(sniff, evtxMagic) {
			return model.KindEvent
		}
	}

	return model.KindUnrecognized
}

// IsBinaryEVTX returns true if the data carries the binary event log file magic.
func IsBinaryEVTX(data []byte) bool {
	return bytes.HasPrefix(data, evtxMagic)
}

// NormalizeColumn returns the canonical form of a tabular column name.
func NormalizeColumn(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(strings.TrimSpace(s))

	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func csvHeader(sniff []byte) map[string]bool {
	line := sniff
	if i := bytes.IndexByte(sniff, '\n'); i >= 0 {
		line = sniff[:i]
	}

	r := csv.NewReader(bytes.NewReader(line))
	r.FieldsPerRecord = -1

	fields, err := r.Read()
	if err != nil {
		return nil
	}

	columns := make(map[string]bool, len(fields))
	for _, f := range fields {
		columns[NormalizeColumn(f)] = true
	}

	return columns
}

func byColumns(columns map[string]bool) model.Kind {
	switch {
	case !columns["asset_tag"]:
		return model.KindUnrecognized
	case columns["event_id"] || columns["level"]:
		return model.KindEvent
	case columns["check_date"]:
		return model.KindMaintenance
	default:
		return model.KindAsset
	}
}

// firstRecordKeys returns the normalized keys of the top level object, or of the
// first element of a top level array. Decoding stops once the first record is read.
func firstRecordKeys(data []byte) map[string]bool {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))

	first, err := dec.Token()
	if err != nil {
		return nil
	}

	if first == json.Delim('[') {
		if first, err = dec.Token(); err != nil {
			return nil
		}
	}

	if first != json.Delim('{') {
		return nil
	}

	return objectKeys(dec)
}

// objectKeys reads the remaining members of an object whose opening delimiter was consumed.
func objectKeys(dec *json.Decoder) map[string]bool {
	keys := map[string]bool{}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}

		key, ok := tok.(string)
		if !ok {
			return nil
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil
		}

		keys[NormalizeColumn(key)] = true
	}

	return keys
}
