package fixtures

import (
	"archive/zip"
	"bytes"
	"time"
)

// Member is a file to be written into a test archive.
type Member struct {
	Name string
	Body []byte
	// Dir adds the member as a directory entry, Body is ignored.
	Dir bool
}

// Archive returns the ZIP encoded members in the given order.
func Archive(members ...Member) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	for _, m := range members {
		name := m.Name
		if m.Dir {
			name += "/"
		}

		fw, err := w.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Date(2025, 12, 9, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			return nil, err
		}

		if m.Dir {
			continue
		}

		if _, err := fw.Write(m.Body); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// MustArchive is Archive, panicking on error.
func MustArchive(members ...Member) []byte {
	b, err := Archive(members...)
	if err != nil {
		panic(err)
	}

	return b
}

// ScenarioArchive returns an archive of five members, three asset files for
// A1, A2 and A3, a maintenance file for A2 placed ahead of its asset file and
// a file of no recognized kind.
func ScenarioArchive() []byte {
	return MustArchive(
		Member{Name: "assets/a1.csv", Body: AssetsCSV(AssetRow{Tag: "A1", Name: "EWS1", Status: "Operational"})},
		Member{Name: "maintenance/a2.csv", Body: MaintenanceCSV(MaintenanceRow{Tag: "A2", CheckDate: "2025-12-09", CheckType: "disk", Worker: "kim", Result: "Pass"})},
		Member{Name: "assets/a2.json", Body: AssetJSON(AssetRow{Tag: "A2", Name: "OPS1", Status: "운영", IPAddress: "10.0.0.2"})},
		Member{Name: "assets/a3.csv", Body: AssetsCSV(AssetRow{Tag: "A3", Name: "HIS1", Status: "Maintenance", Location: "Unit 1"})},
		Member{Name: "docs/manual.pdf", Body: []byte("%PDF-1.4 not a record")},
	)
}
