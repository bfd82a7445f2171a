package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/metal-toolbox/pms/internal/classify"
	"github.com/metal-toolbox/pms/internal/model"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

// xmlEvent is the subset of the Windows event schema read from log exports.
type xmlEvent struct {
	System struct {
		EventID     string `xml:"EventID"`
		Level       string `xml:"Level"`
		Channel     string `xml:"Channel"`
		Computer    string `xml:"Computer"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
	} `xml:"System"`
	EventData struct {
		Data []string `xml:"Data"`
	} `xml:"EventData"`
	RenderingInfo struct {
		Message string `xml:"Message"`
	} `xml:"RenderingInfo"`
}

// EventXML parses a Windows event log XML export, either an <Events> document
// or a stream of <Event> elements as written by wevtutil.
//
// The asset is taken from the member path when it follows the field collection layout,
// otherwise from the Computer element of each event. Besides the events, one Log
// maintenance record is returned per asset, failed when a Critical event is present.
func EventXML(member string, data []byte) (*Result, error) {
	if classify.IsBinaryEVTX(data) {
		return EventEVTX(member, data)
	}

	dec := xml.NewDecoder(bytes.NewReader(utf8Document(data)))
	dec.CharsetReader = charsetReader

	var events []*xmlEvent

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, newError(member, "invalid xml: %s", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Event" {
			continue
		}

		var ev xmlEvent
		if err := dec.DecodeElement(&ev, &start); err != nil {
			return nil, newError(member, "invalid xml: %s", err)
		}

		events = append(events, &ev)
	}

	return eventResult(member, events, false)
}

// eventResult returns the event records of the member, the layout asset sighting and
// the Log checks. Chronological sorts the events by time, otherwise source order is kept.
func eventResult(member string, events []*xmlEvent, chronological bool) (*Result, error) {
	layout, inLayout := classify.ParseLayout(member)
	channel := channelFromName(member)

	result := &Result{Kind: model.KindEvent}

	for i, ev := range events {
		rec, err := ev.record(channel)
		if err != nil {
			return nil, newError(member, "event %d: %s", i+1, err)
		}

		if inLayout {
			rec.AssetTag = layout.Asset
		}

		if rec.AssetTag == "" {
			return nil, newError(member, "event %d: no asset tag, Computer element missing", i+1)
		}

		rec.Source = member
		result.Events = append(result.Events, rec)
	}

	if len(result.Events) == 0 {
		return nil, newError(member, "no events found")
	}

	if chronological {
		sort.SliceStable(result.Events, func(i, j int) bool {
			return result.Events[i].Timestamp.Before(result.Events[j].Timestamp)
		})
	}

	var checkDate time.Time

	if inLayout {
		result.Assets = []*model.Asset{layoutAsset(layout)}
		checkDate, _ = time.Parse("060102", layout.Date)
	}

	result.Maintenance = logChecks(member, channel, checkDate, result.Events)

	return result, nil
}

func (ev *xmlEvent) record(channel string) (*model.EventLogRecord, error) {
	id, err := strconv.Atoi(strings.TrimSpace(ev.System.EventID))
	if err != nil {
		return nil, fmt.Errorf("invalid EventID %q", ev.System.EventID)
	}

	level, err := strconv.Atoi(strings.TrimSpace(ev.System.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid Level %q", ev.System.Level)
	}

	// level 0 (LogAlways) is displayed as Information
	if level == 0 {
		level = model.LevelInformation
	}

	ts, err := time.Parse(time.RFC3339Nano, ev.System.TimeCreated.SystemTime)
	if err != nil {
		return nil, fmt.Errorf("invalid TimeCreated %q", ev.System.TimeCreated.SystemTime)
	}

	message := strings.TrimSpace(ev.RenderingInfo.Message)
	if message == "" {
		message = strings.Join(ev.EventData.Data, "; ")
	}

	if ev.System.Channel != "" {
		channel = ev.System.Channel
	}

	return &model.EventLogRecord{
		AssetTag:  strings.TrimSpace(ev.System.Computer),
		EventID:   id,
		Level:     level,
		Timestamp: ts.UTC(),
		Channel:   channel,
		Message:   message,
	}, nil
}

// logChecks returns a Log maintenance record per asset summarizing its events.
//
// A zero checkDate dates each record by the latest event of its asset.
func logChecks(member, channel string, checkDate time.Time, events []*model.EventLogRecord) []*model.MaintenanceRecord {
	byTag := map[string][]*model.EventLogRecord{}
	tags := []string{}

	for _, e := range events {
		if _, ok := byTag[e.AssetTag]; !ok {
			tags = append(tags, e.AssetTag)
		}

		byTag[e.AssetTag] = append(byTag[e.AssetTag], e)
	}

	records := make([]*model.MaintenanceRecord, 0, len(tags))

	for _, tag := range tags {
		summary := model.SummarizeEvents(tag, byTag[tag])

		rec := &model.MaintenanceRecord{
			AssetTag:     tag,
			CheckDate:    checkDate,
			CheckType:    model.CheckTypeLog,
			ResultStatus: model.ResultPass,
			Source:       member,
			Details:      []model.Detail{{Item: channel + " Event Stats", Value: strconv.Itoa(summary.Total)}},
		}

		switch {
		case len(summary.Levels[model.LevelKey(model.LevelCritical)]) > 0:
			rec.ResultStatus = model.ResultFail
		case len(summary.Levels[model.LevelKey(model.LevelError)]) > 0:
			rec.ResultStatus = model.ResultWarning
		}

		for level := model.LevelCritical; level <= model.LevelWarning; level++ {
			counts := summary.Levels[model.LevelKey(level)]

			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}

			sort.Strings(keys)

			for _, k := range keys {
				rec.Details = append(rec.Details, model.Detail{
					Item:  model.LevelKey(level) + " " + k,
					Value: strconv.Itoa(counts[k]),
				})
			}
		}

		if rec.CheckDate.IsZero() {
			for _, e := range byTag[tag] {
				if e.Timestamp.After(rec.CheckDate) {
					rec.CheckDate = e.Timestamp
				}
			}

			rec.CheckDate = rec.CheckDate.Truncate(24 * time.Hour)
		}

		records = append(records, rec)
	}

	return records
}

// channelFromName derives the log channel from an export file name as sys, app, sec or unknown.
func channelFromName(member string) string {
	name := strings.ToLower(path.Base(member))

	switch {
	case strings.Contains(name, "sys"):
		return "sys"
	case strings.Contains(name, "app"):
		return "app"
	case strings.Contains(name, "sec"):
		return "sec"
	default:
		return "unknown"
	}
}

// utf8Document transcodes UTF-16 exports, as saved by the event viewer, to UTF-8.
func utf8Document(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte{0xff, 0xfe}) && !bytes.HasPrefix(data, []byte{0xfe, 0xff}) {
		return data
	}

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
	if err != nil {
		return data
	}

	return decoded
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	// utf-16 documents are transcoded before decoding.
	case "utf-16", "utf-16le", "utf-16be":
		return input, nil
	case "euc-kr", "cp949", "ks_c_5601-1987":
		return korean.EUCKR.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}

func eventsFromTable(t *table) (*Result, error) {
	if err := t.require("asset_tag", "event_id", "level", "timestamp"); err != nil {
		return nil, err
	}

	result := &Result{Kind: model.KindEvent}

	for _, r := range t.rows {
		id, err := strconv.Atoi(r.get("event_id"))
		if err != nil {
			return nil, newError(t.member, "record %d: invalid event_id %q", r.line, r.get("event_id"))
		}

		level, err := strconv.Atoi(r.get("level"))
		if err != nil {
			return nil, newError(t.member, "record %d: invalid level %q", r.line, r.get("level"))
		}

		ts, err := parseTimestamp(r.get("timestamp"))
		if err != nil {
			return nil, newError(t.member, "record %d: %s", r.line, err)
		}

		result.Events = append(result.Events, &model.EventLogRecord{
			AssetTag:  r.get("asset_tag"),
			EventID:   id,
			Level:     level,
			Timestamp: ts,
			Channel:   r.get("channel"),
			Message:   r.get("message"),
			Source:    t.member,
		})
	}

	return result, nil
}

// EventCSV parses a tabular event log, asset_tag, event_id, level and timestamp columns are required.
func EventCSV(member string, data []byte) (*Result, error) {
	t, err := readCSV(member, data)
	if err != nil {
		return nil, err
	}

	return eventsFromTable(t)
}

// EventJSON parses an event object or an array of them.
func EventJSON(member string, data []byte) (*Result, error) {
	t, err := readJSON(member, data)
	if err != nil {
		return nil, err
	}

	return eventsFromTable(t)
}
