package model

import (
	"strings"
)

type StoreKind string

// Kind is the classification assigned to an archive member.
type Kind string

const (
	AppName = "pms"

	StoreKindMemory   StoreKind = "memory"
	StoreKindPostgres StoreKind = "postgres"

	LogLevelInfo  = 0
	LogLevelDebug = 1
	LogLevelTrace = 2

	KindAsset        Kind = "asset"
	KindMaintenance  Kind = "maintenance"
	KindEvent        Kind = "event"
	KindUnrecognized Kind = "unrecognized"
)

// StoreKinds returns the supported repository kinds
func StoreKinds() []StoreKind { return []StoreKind{StoreKindMemory, StoreKindPostgres} }

// Kinds returns every member classification, Unrecognized last.
func Kinds() []Kind {
	return []Kind{KindAsset, KindMaintenance, KindEvent, KindUnrecognized}
}

// AssetStatus is the lifecycle state of an asset.
type AssetStatus string

const (
	AssetStatusOperational AssetStatus = "Operational"
	AssetStatusMaintenance AssetStatus = "Maintenance"
	AssetStatusRetired     AssetStatus = "Retired"
	AssetStatusUnknown     AssetStatus = "Unknown"
)

// assetStatusAliases maps lower cased labels seen in inventory exports to a status,
// the Korean labels are the ones the plant operators use.
var assetStatusAliases = map[string]AssetStatus{
	"operational": AssetStatusOperational,
	"running":     AssetStatusOperational,
	"운영":          AssetStatusOperational,
	"maintenance": AssetStatusMaintenance,
	"점검":          AssetStatusMaintenance,
	"불량":          AssetStatusMaintenance,
	"faulty":      AssetStatusMaintenance,
	"retired":     AssetStatusRetired,
	"unknown":     AssetStatusUnknown,
}

// ParseAssetStatus returns the status for the given label and whether the label was recognized.
//
// An empty or unrecognized label returns AssetStatusUnknown.
func ParseAssetStatus(s string) (AssetStatus, bool) {
	status, ok := assetStatusAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return AssetStatusUnknown, false
	}

	return status, true
}

// CheckType is the kind of maintenance check performed.
type CheckType string

const (
	CheckTypeDisk    CheckType = "Disk"
	CheckTypeProcess CheckType = "Process"
	CheckTypeLog     CheckType = "Log"
	CheckTypeOther   CheckType = "Other"
)

// ParseCheckType returns the check type for s, an empty value is CheckTypeOther.
func ParseCheckType(s string) (CheckType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disk", "disk,task", "performance":
		return CheckTypeDisk, true
	case "process", "log,process":
		return CheckTypeProcess, true
	case "log", "eventlog":
		return CheckTypeLog, true
	case "other", "":
		return CheckTypeOther, true
	default:
		return CheckTypeOther, false
	}
}

// ResultStatus is the outcome of a maintenance check.
type ResultStatus string

const (
	ResultPass    ResultStatus = "Pass"
	ResultFail    ResultStatus = "Fail"
	ResultWarning ResultStatus = "Warning"
)

// ParseResultStatus returns the result status for s, an empty value is a Pass.
func ParseResultStatus(s string) (ResultStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "ok", "":
		return ResultPass, true
	case "fail", "failed", "error":
		return ResultFail, true
	case "warning", "warn":
		return ResultWarning, true
	default:
		return ResultPass, false
	}
}
