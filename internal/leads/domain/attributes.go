package domain

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"leadintel_backend/platform/apperr"
)

// ValueKind is the closed set of attribute value types.
type ValueKind string

const (
	KindNumber    ValueKind = "number"
	KindEnum      ValueKind = "enum"
	KindTimestamp ValueKind = "timestamp"
	KindText      ValueKind = "text"
)

// ProvenanceSource marks values that came with the lead rather than from a provider.
const ProvenanceSource = "source"

// Well-known attribute names read by scoring and lifecycle code.
// The map stays open; unknown names are kept and ignored by scoring.
const (
	AttrProjectName    = "project_name"
	AttrProjectType    = "project_type"
	AttrStage          = "project_stage"
	AttrProjectValue   = "project_value"
	AttrSizeSqft       = "project_size_sqft"
	AttrUnits          = "units_count"
	AttrAddress        = "address"
	AttrCity           = "city"
	AttrState          = "state"
	AttrLatitude       = "latitude"
	AttrLongitude      = "longitude"
	AttrStartDate      = "estimated_start_date"
	AttrTimeline       = "decision_timeline"
	AttrLastUpdated    = "last_updated_at"
	AttrDataSource     = "data_source"
	AttrContactCount   = "contact_count"
	AttrContactQuality = "contact_quality"
	AttrContactPhone   = "contact_phone"
	AttrContactEmail   = "contact_email"
	AttrDescription    = "description"
	AttrNotes          = "notes"
	AttrServicesNeeded = "services_needed"
)

const (
	maxEnumLength = 128
	maxTextLength = 20000
)

var attributeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Value is one typed attribute value. Exactly one payload field is set,
// matching Kind.
type Value struct {
	Kind       ValueKind  `json:"kind"`
	Number     *float64   `json:"number,omitempty"`
	Str        string     `json:"str,omitempty"`
	Time       *time.Time `json:"time,omitempty"`
	Provenance string     `json:"provenance,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Number returns a numeric value.
func Number(v float64) Value { return Value{Kind: KindNumber, Number: &v} }

// Enum returns an enumerated value. Enums are compared case-insensitively.
func Enum(v string) Value { return Value{Kind: KindEnum, Str: v} }

// Text returns a free-text value.
func Text(v string) Value { return Value{Kind: KindText, Str: v} }

// Timestamp returns a timestamp value normalised to UTC.
func Timestamp(v time.Time) Value {
	t := v.UTC()
	return Value{Kind: KindTimestamp, Time: &t}
}

// From stamps the value with a provenance and write time.
func (v Value) From(provenance string, at time.Time) Value {
	v.Provenance = provenance
	v.UpdatedAt = at.UTC()
	return v
}

// Equal compares payloads only, ignoring provenance and write time.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number != nil && o.Number != nil && *v.Number == *o.Number
	case KindTimestamp:
		return v.Time != nil && o.Time != nil && v.Time.Equal(*o.Time)
	default:
		return v.Str == o.Str
	}
}

func (v Value) validate() error {
	switch v.Kind {
	case KindNumber:
		if v.Number == nil {
			return fmt.Errorf("number value missing")
		}
		if math.IsNaN(*v.Number) || math.IsInf(*v.Number, 0) {
			return fmt.Errorf("number must be finite")
		}
	case KindEnum:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return fmt.Errorf("enum value is empty")
		}
		if len(s) > maxEnumLength {
			return fmt.Errorf("enum value longer than %d", maxEnumLength)
		}
	case KindText:
		if len(v.Str) > maxTextLength {
			return fmt.Errorf("text longer than %d", maxTextLength)
		}
	case KindTimestamp:
		if v.Time == nil || v.Time.IsZero() {
			return fmt.Errorf("timestamp value missing")
		}
	default:
		return fmt.Errorf("unknown kind %q", v.Kind)
	}
	return nil
}

// Attributes is the open signal map of a lead.
type Attributes map[string]Value

// Clone returns a shallow copy; Values are immutable so this is enough.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Num returns a numeric attribute. Wrong kinds read as absent.
func (a Attributes) Num(name string) (float64, bool) {
	v, ok := a[name]
	if !ok || v.Kind != KindNumber || v.Number == nil {
		return 0, false
	}
	return *v.Number, true
}

// EnumValue returns a lower-cased enum attribute.
func (a Attributes) EnumValue(name string) (string, bool) {
	v, ok := a[name]
	if !ok || v.Kind != KindEnum {
		return "", false
	}
	s := strings.ToLower(strings.TrimSpace(v.Str))
	return s, s != ""
}

// TextValue returns a text or enum attribute as-is.
func (a Attributes) TextValue(name string) (string, bool) {
	v, ok := a[name]
	if !ok || (v.Kind != KindText && v.Kind != KindEnum) {
		return "", false
	}
	return v.Str, v.Str != ""
}

// TimeValue returns a timestamp attribute.
func (a Attributes) TimeValue(name string) (time.Time, bool) {
	v, ok := a[name]
	if !ok || v.Kind != KindTimestamp || v.Time == nil {
		return time.Time{}, false
	}
	return *v.Time, true
}

// FieldError describes one rejected attribute.
type FieldError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ValidateAttributes checks names and payloads. It collects every problem
// so callers can report them together.
func ValidateAttributes(attrs Attributes) error {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []FieldError
	for _, name := range names {
		if !attributeNamePattern.MatchString(name) {
			problems = append(problems, FieldError{Name: name, Reason: "invalid attribute name"})
			continue
		}
		if err := attrs[name].validate(); err != nil {
			problems = append(problems, FieldError{Name: name, Reason: err.Error()})
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return apperr.Validation("invalid lead attributes").WithDetails(problems)
}
