package fixtures

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var assetHeader = []string{"asset_tag", "name", "status", "manufacturer", "model", "os_info", "location", "ip_address", "system_group"}

type AssetRow struct {
	Tag          string `json:"asset_tag"`
	Name         string `json:"name,omitempty"`
	Status       string `json:"status,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	OSInfo       string `json:"os_info,omitempty"`
	Location     string `json:"location,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	SystemGroup  string `json:"system_group,omitempty"`
}

func (r AssetRow) cells() []string {
	return []string{r.Tag, r.Name, r.Status, r.Manufacturer, r.Model, r.OSInfo, r.Location, r.IPAddress, r.SystemGroup}
}

type MaintenanceRow struct {
	Tag       string `json:"asset_tag"`
	CheckDate string `json:"check_date"`
	CheckType string `json:"check_type,omitempty"`
	Worker    string `json:"worker,omitempty"`
	Result    string `json:"result_status,omitempty"`
}

type EventRow struct {
	Tag       string `json:"asset_tag"`
	EventID   int    `json:"event_id"`
	Level     int    `json:"level"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

// XMLEvent is a single event rendered by EventXML.
type XMLEvent struct {
	EventID int
	Level   int
	Time    time.Time
	Message string
}

func writeCSV(header []string, rows [][]string) []byte {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)

	_ = w.Write(header)
	_ = w.WriteAll(rows)

	return buf.Bytes()
}

// AssetsCSV returns an asset inventory CSV with the full column set.
func AssetsCSV(rows ...AssetRow) []byte {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, r.cells())
	}

	return writeCSV(assetHeader, cells)
}

// AssetJSON returns a single asset as a JSON object, or an array when given more than one.
func AssetJSON(rows ...AssetRow) []byte {
	var v any = rows
	if len(rows) == 1 {
		v = rows[0]
	}

	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}

// AssetsXLSX returns an asset inventory workbook, rows are written on the first sheet.
func AssetsXLSX(rows ...AssetRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	all := [][]string{assetHeader}

	for _, r := range rows {
		all = append(all, r.cells())
	}

	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}

		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// MaintenanceCSV returns a tabular maintenance log.
func MaintenanceCSV(rows ...MaintenanceRow) []byte {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{r.Tag, r.CheckDate, r.CheckType, r.Worker, r.Result})
	}

	return writeCSV([]string{"asset_tag", "check_date", "check_type", "worker", "result_status"}, cells)
}

// EventsCSV returns a tabular event log.
func EventsCSV(rows ...EventRow) []byte {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{r.Tag, strconv.Itoa(r.EventID), strconv.Itoa(r.Level), r.Timestamp, r.Message})
	}

	return writeCSV([]string{"asset_tag", "event_id", "level", "timestamp", "message"}, cells)
}

// EventsJSON returns events as a JSON array.
func EventsJSON(rows ...EventRow) []byte {
	b, err := json.Marshal(rows)
	if err != nil {
		panic(err)
	}

	return b
}

// PerfText returns a disk,task performance check in the Key: Value layout.
func PerfText() []byte {
	return []byte(strings.Join([]string{
		"CPU Usage: 12%",
		"Memory Usage: 41%",
		"C Drive Free: 118 GB",
		"",
		"malformed line without separator",
		"Result: Pass",
	}, "\r\n"))
}

// ProcessText returns a log,process process listing of n lines.
func ProcessText(n int) []byte {
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf("proc%02d.exe %d Services 0 1,024 K", i, 1000+i))
	}

	return []byte(strings.Join(lines, "\n"))
}

// EventXML returns a Windows event log XML export for the computer.
func EventXML(computer string, events ...XMLEvent) []byte {
	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n<Events>\n")

	for _, e := range events {
		fmt.Fprintf(&b,
			`<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">`+
				`<System><Provider Name="Service Control Manager"/><EventID Qualifiers="16384">%d</EventID>`+
				`<Level>%d</Level><TimeCreated SystemTime="%s"/><Channel>System</Channel>`+
				`<Computer>%s</Computer></System>`+
				`<EventData><Data Name="param1">%s</Data></EventData>`+
				`<RenderingInfo Culture="en-US"><Message>%s</Message></RenderingInfo></Event>`+"\n",
			e.EventID, e.Level, e.Time.UTC().Format(time.RFC3339Nano), computer, e.Message, e.Message,
		)
	}

	b.WriteString("</Events>\n")

	return []byte(b.String())
}
