// Package parse decodes classified archive members into typed records.
//
// Parsers are pure functions of the member name and its bytes, they validate the
// structural shape of their own format and return an *Error otherwise.
package parse

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/metal-toolbox/pms/internal/classify"
	"github.com/metal-toolbox/pms/internal/model"
)

// Error is returned when member content does not have the shape expected of its kind.
type Error struct {
	Member string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", model.ErrParse.Error(), e.Member, e.Reason)
}

// Is returns true for model.ErrParse.
func (e *Error) Is(target error) bool {
	return target == model.ErrParse
}

func newError(member, format string, args ...any) *Error {
	return &Error{Member: member, Reason: fmt.Sprintf(format, args...)}
}

// Result holds the records decoded from a single member.
type Result struct {
	Kind        model.Kind
	Assets      []*model.Asset
	Maintenance []*model.MaintenanceRecord
	Events      []*model.EventLogRecord
}

// Len returns the count of records in the result.
func (r *Result) Len() int {
	return len(r.Assets) + len(r.Maintenance) + len(r.Events)
}

// References returns the sorted, distinct asset tags the maintenance and event records refer to.
func (r *Result) References() []string {
	seen := map[string]bool{}

	for _, m := range r.Maintenance {
		seen[m.AssetTag] = true
	}

	for _, e := range r.Events {
		seen[e.AssetTag] = true
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}

// Func is the signature shared by record parsers.
type Func func(member string, data []byte) (*Result, error)

var byExtension = map[model.Kind]map[string]Func{
	model.KindAsset: {
		".csv":  AssetCSV,
		".json": AssetJSON,
		".xlsx": AssetXLSX,
	},
	model.KindMaintenance: {
		".csv":  MaintenanceCSV,
		".json": MaintenanceJSON,
	},
	model.KindEvent: {
		".csv":  EventCSV,
		".json": EventJSON,
		".xml":  EventXML,
		".evtx": EventEVTX,
	},
}

// Parse decodes the member as the given kind, picking the parser by member layout and extension.
func Parse(kind model.Kind, member string, data []byte) (*Result, error) {
	fn, err := parserFor(kind, member)
	if err != nil {
		return nil, err
	}

	return fn(member, data)
}

func parserFor(kind model.Kind, member string) (Func, error) {
	ext := strings.ToLower(path.Ext(member))

	if layout, ok := classify.ParseLayout(member); ok {
		ext = layout.Ext

		switch kind {
		case model.KindMaintenance:
			return LayoutText, nil
		case model.KindEvent:
			return EventXML, nil
		}
	}

	if fn, ok := byExtension[kind][ext]; ok {
		return fn, nil
	}

	return nil, newError(member, "no %s parser for %q files", kind, ext)
}

// layoutAsset returns the asset sighting implied by a field collection member path.
// A sighting carries the tag only, so merging it never replaces an inventory attribute.
func layoutAsset(layout classify.Layout) *model.Asset {
	return &model.Asset{
		Tag:    layout.Asset,
		Status: model.AssetStatusUnknown,
	}
}
