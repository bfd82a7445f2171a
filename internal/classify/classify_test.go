package classify

import (
	"strings"
	"testing"

	"github.com/metal-toolbox/pms/internal/fixtures"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayout(t *testing.T) {
	got, ok := ParseLayout("disk,task/1단계_ECMS/1BL_ECMS_EWS1/251209_cpu.txt")
	require.True(t, ok)

	assert.Equal(t, Layout{
		WorkType:    WorkTypeDiskTask,
		SystemGroup: "1단계_ECMS",
		Asset:       "1BL_ECMS_EWS1",
		Date:        "251209",
		File:        "cpu.txt",
		Ext:         ".txt",
	}, got)

	for _, name := range []string{
		"disk,task/ECMS/EWS1/cpu.txt",
		"backup/ECMS/EWS1/251209_cpu.txt",
		"disk,task/EWS1/251209_cpu.txt",
		"log,process//EWS1/251209_ps.txt",
	} {
		_, ok := ParseLayout(name)
		assert.False(t, ok, name)
	}
}

func TestClassify(t *testing.T) {
	xlsx, err := fixtures.AssetsXLSX(fixtures.AssetRow{Tag: "A1"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		sniff []byte
		want  model.Kind
	}{
		{"disk,task/ECMS/EWS1/251209_cpu.txt", fixtures.PerfText(), model.KindMaintenance},
		{"log,process/ECMS/EWS1/251209_process.txt", fixtures.ProcessText(3), model.KindMaintenance},
		{"log,process/ECMS/EWS1/251209_sys.xml", nil, model.KindEvent},
		{"log,process/ECMS/EWS1/251209_sys.evtx", []byte("ElfFile\x00"), model.KindEvent},
		{"log,process/ECMS/EWS1/251209_capture.png", nil, model.KindUnrecognized},
		{"inventory.csv", fixtures.AssetsCSV(fixtures.AssetRow{Tag: "A1"}), model.KindAsset},
		{"checks.CSV", fixtures.MaintenanceCSV(fixtures.MaintenanceRow{Tag: "A1", CheckDate: "2025-12-09"}), model.KindMaintenance},
		{"events.csv", fixtures.EventsCSV(fixtures.EventRow{Tag: "A1", EventID: 41, Level: 1}), model.KindEvent},
		{"bom.csv", []byte("\ufeffAsset Tag,Name\nA1,EWS1\n"), model.KindAsset},
		{"other.csv", []byte("serial,name\n1,x\n"), model.KindUnrecognized},
		{"a1.json", fixtures.AssetJSON(fixtures.AssetRow{Tag: "A1"}), model.KindAsset},
		{"events.json", fixtures.EventsJSON(fixtures.EventRow{Tag: "A1"}), model.KindEvent},
		{"notes.json", []byte("not json"), model.KindUnrecognized},
		{"inventory.xlsx", xlsx, model.KindAsset},
		{"inventory.xlsx", []byte("plain text"), model.KindUnrecognized},
		{"export.xml", []byte(`<Events><Event xmlns="` + EventNamespace + `">`), model.KindEvent},
		{"config.xml", []byte(`<config/>`), model.KindUnrecognized},
		{"docs/manual.pdf", []byte("%PDF-1.4"), model.KindUnrecognized},
		{"README", nil, model.KindUnrecognized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.name, tc.sniff))
			// deterministic
			assert.Equal(t, tc.want, Classify(tc.name, tc.sniff))
		})
	}
}

func TestClassifySniffBounded(t *testing.T) {
	sniff := make([]byte, SniffLen)
	for i := range sniff {
		sniff[i] = ' '
	}

	sniff = append(sniff, []byte("asset_tag,name\nA1,EWS1\n")...)

	assert.Equal(t, model.KindUnrecognized, Classify("late.csv", sniff))
}

func TestClassifyJSONByFirstRecord(t *testing.T) {
	long := strings.Repeat("x", 2*SniffLen)

	tests := []struct {
		name string
		data string
		want model.Kind
	}{
		{
			"events.json",
			`[{"message":"` + long + `","asset_tag":"A1","event_id":41,"level":1,"timestamp":"2025-12-09T10:00:00Z"}]`,
			model.KindEvent,
		},
		{
			"checks.json",
			`{"notes":"` + long + `","asset_tag":"A1","check_date":"2025-12-09"}`,
			model.KindMaintenance,
		},
		{
			"inventory.json",
			`[{"name":"` + long + `","asset_tag":"A1"},{"asset_tag":"A2","event_id":1}]`,
			model.KindAsset,
		},
		{"padded.json", "\ufeff \n" + strings.Repeat(" ", SniffLen) + `{"asset_tag":"A1"}`, model.KindAsset},
		{"truncated.json", `[{"message":"` + long, model.KindUnrecognized},
		{"scalars.json", `[1, 2]`, model.KindUnrecognized},
		{"empty.json", `[]`, model.KindUnrecognized},
		{"untagged.json", `{"name":"EWS1"}`, model.KindUnrecognized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.name, []byte(tc.data)))
		})
	}
}
