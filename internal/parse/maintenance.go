package parse

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/metal-toolbox/pms/internal/classify"
	"github.com/metal-toolbox/pms/internal/model"
	"golang.org/x/text/encoding/korean"
)

const processListItem = "Process List"

// resultKeys are the performance check keys whose value is the overall check result.
var resultKeys = map[string]bool{"result": true, "status": true, "result_status": true, "결과": true}

// LayoutText parses a field collection text member.
//
// disk,task members hold performance checks as Key: Value lines, log,process members
// hold a process listing recorded as a single Process List item with the line count as its value.
// The member also reports a sighting of the asset named in its path.
func LayoutText(member string, data []byte) (*Result, error) {
	layout, ok := classify.ParseLayout(member)
	if !ok {
		return nil, newError(member, "path is not in the <work_type>/<system_group>/<asset>/<YYMMDD>_<file> layout")
	}

	checkDate, err := time.Parse("060102", layout.Date)
	if err != nil {
		return nil, newError(member, "invalid date prefix %q", layout.Date)
	}

	text := decodeText(data)

	rec := &model.MaintenanceRecord{
		AssetTag:     layout.Asset,
		CheckDate:    checkDate,
		ResultStatus: model.ResultPass,
		Source:       member,
	}

	switch layout.WorkType {
	case classify.WorkTypeDiskTask:
		rec.CheckType = model.CheckTypeDisk

		if err := parsePerformance(member, text, rec); err != nil {
			return nil, err
		}
	default:
		rec.CheckType = model.CheckTypeProcess

		lines := countLines(text)
		if lines == 0 {
			return nil, newError(member, "empty process listing")
		}

		rec.Details = []model.Detail{{Item: processListItem, Value: strconv.Itoa(lines)}}
	}

	return &Result{
		Kind:        model.KindMaintenance,
		Assets:      []*model.Asset{layoutAsset(layout)},
		Maintenance: []*model.MaintenanceRecord{rec},
	}, nil
}

func parsePerformance(member, text string, rec *model.MaintenanceRecord) error {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		key = strings.TrimSpace(key)

		if !found || key == "" {
			continue
		}

		value = strings.TrimSpace(value)

		if resultKeys[classify.NormalizeColumn(key)] {
			rec.ResultStatus = model.ResultStatus(value)
			continue
		}

		rec.Details = append(rec.Details, model.Detail{Item: key, Value: value})
	}

	if err := scanner.Err(); err != nil {
		return newError(member, "read error: %s", err)
	}

	if len(rec.Details) == 0 {
		return newError(member, "no Key: Value lines found")
	}

	return nil
}

func countLines(text string) int {
	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return 0
	}

	return strings.Count(text, "\n") + 1
}

// decodeText returns the member as UTF-8, text collected from Korean Windows hosts is CP949 encoded.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}

	decoded, err := korean.EUCKR.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}

	return string(decoded)
}

func maintenanceFromTable(t *table) (*Result, error) {
	if err := t.require("asset_tag", "check_date"); err != nil {
		return nil, err
	}

	result := &Result{Kind: model.KindMaintenance}

	for _, r := range t.rows {
		checkDate, err := parseDate(r.get("check_date"))
		if err != nil {
			return nil, newError(t.member, "record %d: %s", r.line, err)
		}

		// enum values are checked by the validator.
		result.Maintenance = append(result.Maintenance, &model.MaintenanceRecord{
			AssetTag:     r.get("asset_tag"),
			CheckDate:    checkDate,
			CheckType:    model.CheckType(r.get("check_type")),
			Worker:       r.get("worker"),
			ResultStatus: model.ResultStatus(r.get("result_status")),
			Source:       t.member,
		})
	}

	return result, nil
}

// MaintenanceCSV parses a tabular maintenance log, asset_tag and check_date columns are required.
func MaintenanceCSV(member string, data []byte) (*Result, error) {
	t, err := readCSV(member, data)
	if err != nil {
		return nil, err
	}

	return maintenanceFromTable(t)
}

// MaintenanceJSON parses a maintenance record object or an array of them.
func MaintenanceJSON(member string, data []byte) (*Result, error) {
	t, err := readJSON(member, data)
	if err != nil {
		return nil, err
	}

	return maintenanceFromTable(t)
}
