// Package validate enforces field and referential constraints on parsed records before admission.
package validate

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/parse"
	"github.com/pkg/errors"
)

// FutureTolerance is how far past the current time a maintenance check date may be,
// archives are collected across time zones.
const FutureTolerance = 24 * time.Hour

var tagPattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}._-]{0,127}$`)

// Resolver reports whether an asset tag refers to an admitted asset.
type Resolver interface {
	Exists(ctx context.Context, tag string) (bool, error)
}

// UnresolvedError is returned when every record of an entry is valid apart from
// references to asset tags that are not admitted.
type UnresolvedError struct {
	Tags []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s: %s", model.ErrUnresolvedReference.Error(), strings.Join(e.Tags, ", "))
}

// Is returns true for model.ErrUnresolvedReference and model.ErrValidationFailed.
func (e *UnresolvedError) Is(target error) bool {
	return target == model.ErrUnresolvedReference || target == model.ErrValidationFailed
}

// Validator validates all records of a parsed entry.
type Validator struct {
	resolver Resolver
	now      func() time.Time
}

// Option sets a Validator parameter.
type Option func(*Validator)

// WithClock sets the clock used to reject future check dates.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New returns a Validator resolving asset references against the resolver.
func New(resolver Resolver, opts ...Option) *Validator {
	v := &Validator{resolver: resolver, now: time.Now}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Result validates an entry as a whole, asset statuses and maintenance enums are normalized in place.
//
// Field violations are collected and returned wrapping model.ErrValidationFailed.
// When the fields are valid and only references are missing an *UnresolvedError is returned.
func (v *Validator) Result(ctx context.Context, res *parse.Result) error {
	var merr *multierror.Error

	local := make(map[string]bool, len(res.Assets))

	for i, a := range res.Assets {
		if err := Asset(a); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "asset %d", i+1))
			continue
		}

		local[a.Tag] = true
	}

	now := v.now()

	for i, m := range res.Maintenance {
		if err := Maintenance(m, now); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "maintenance %d", i+1))
		}
	}

	for i, e := range res.Events {
		if err := Event(e); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "event %d", i+1))
		}
	}

	if merr != nil {
		merr.ErrorFormat = joinErrors
		return errors.Wrap(model.ErrValidationFailed, merr.Error())
	}

	return v.references(ctx, res, local)
}

func (v *Validator) references(ctx context.Context, res *parse.Result, local map[string]bool) error {
	var unresolved []string

	for _, tag := range res.References() {
		if local[tag] {
			continue
		}

		ok, err := v.resolver.Exists(ctx, tag)
		if err != nil {
			return errors.Wrap(err, "resolving asset "+tag)
		}

		if !ok {
			unresolved = append(unresolved, tag)
		}
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return &UnresolvedError{Tags: unresolved}
	}

	return nil
}

// Asset validates the asset tag and address, the status label is normalized with unrecognized labels set to Unknown.
func Asset(a *model.Asset) error {
	var merr *multierror.Error

	if err := Tag(a.Tag); err != nil {
		merr = multierror.Append(merr, err)
	}

	if a.IPAddress != "" && net.ParseIP(a.IPAddress) == nil {
		merr = multierror.Append(merr, fmt.Errorf("invalid ip address %q", a.IPAddress))
	}

	a.Status, _ = model.ParseAssetStatus(string(a.Status))

	if merr != nil {
		merr.ErrorFormat = joinErrors
	}

	return merr.ErrorOrNil()
}

// Maintenance validates the asset reference, check date and enum fields,
// check type and result status are normalized in place.
func Maintenance(m *model.MaintenanceRecord, now time.Time) error {
	var merr *multierror.Error

	if err := Tag(m.AssetTag); err != nil {
		merr = multierror.Append(merr, err)
	}

	switch {
	case m.CheckDate.IsZero():
		merr = multierror.Append(merr, errors.New("check date is missing"))
	case m.CheckDate.After(now.Add(FutureTolerance)):
		merr = multierror.Append(merr, fmt.Errorf("check date %s is in the future", m.CheckDate.Format("2006-01-02")))
	}

	checkType, ok := model.ParseCheckType(string(m.CheckType))
	if !ok {
		merr = multierror.Append(merr, fmt.Errorf("unknown check type %q", m.CheckType))
	}

	result, ok := model.ParseResultStatus(string(m.ResultStatus))
	if !ok {
		merr = multierror.Append(merr, fmt.Errorf("unknown result status %q", m.ResultStatus))
	}

	if merr != nil {
		merr.ErrorFormat = joinErrors
		return merr
	}

	m.CheckType = checkType
	m.ResultStatus = result

	return nil
}

// Event validates the asset reference, severity level and timestamp.
func Event(e *model.EventLogRecord) error {
	var merr *multierror.Error

	if err := Tag(e.AssetTag); err != nil {
		merr = multierror.Append(merr, err)
	}

	if e.Level < model.LevelCritical || e.Level > model.LevelVerbose {
		merr = multierror.Append(merr, fmt.Errorf("level %d out of range 1..5", e.Level))
	}

	if e.EventID < 0 || e.EventID > 65535 {
		merr = multierror.Append(merr, fmt.Errorf("event id %d out of range", e.EventID))
	}

	if e.Timestamp.IsZero() {
		merr = multierror.Append(merr, errors.New("timestamp is missing"))
	}

	if merr != nil {
		merr.ErrorFormat = joinErrors
	}

	return merr.ErrorOrNil()
}

// Tag returns an error if the asset tag is empty or malformed.
func Tag(tag string) error {
	if tag == "" {
		return errors.New("asset tag is empty")
	}

	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("asset tag %q is malformed", tag)
	}

	return nil
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return strings.Join(msgs, "; ")
}
