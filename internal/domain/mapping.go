package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// Mapping targets accepted in a confirmed column map.
const (
	FieldStudentCode = "STUDENT_CODE"
	FieldFirstName   = "FIRST_NAME"
	FieldLastName    = "LAST_NAME"
	FieldEmail       = "EMAIL"
	FieldPeriod      = "FIELD_PERIOD"
	FieldIgnore      = "IGNORE"

	MarkerSubjectName = "DYNAMIC_SUBJECT_NAME"
	MarkerScoreValue  = "DYNAMIC_GRADE_VALUE"
	MarkerAttendance  = "DYNAMIC_ATTENDANCE"
	MarkerObservation = "DYNAMIC_OBSERVATION"

	SubjectPrefix = "SUBJECT:"
)

// Orientation describes how grades are laid out in a sheet.
type Orientation string

const (
	// OrientationHorizontal has one column per subject.
	OrientationHorizontal Orientation = "horizontal"
	// OrientationVertical has one row per (identity, subject) pair.
	OrientationVertical Orientation = "vertical"
)

// ColumnMap is the operator-confirmed mapping of raw headers to targets.
type ColumnMap map[string]string

// SubjectTarget builds the SUBJECT:<name> target for a header.
func SubjectTarget(name string) string {
	return SubjectPrefix + strings.TrimSpace(name)
}

// IsFixedField reports whether target names one of the identity fields.
func IsFixedField(target string) bool {
	switch target {
	case FieldStudentCode, FieldFirstName, FieldLastName, FieldEmail:
		return true
	}
	return false
}

func isMarker(target string) bool {
	switch target {
	case MarkerSubjectName, MarkerScoreValue, MarkerAttendance, MarkerObservation, FieldPeriod:
		return true
	}
	return false
}

// MappingPlan is a validated ColumnMap resolved into the columns execution reads.
type MappingPlan struct {
	StudentCode string
	FirstName   string
	LastName    string
	Email       string

	Subject     string
	Score       string
	Attendance  string
	Observation string
	Period      string

	// SubjectColumns maps horizontal grade headers to subject names.
	SubjectColumns map[string]string
}

// Orientation is vertical iff both the subject and score markers are mapped.
func (p MappingPlan) Orientation() Orientation {
	if p.Subject != "" && p.Score != "" {
		return OrientationVertical
	}
	return OrientationHorizontal
}

// SubjectHeaders returns the horizontal grade headers in a stable order.
func (p MappingPlan) SubjectHeaders() []string {
	return slices.Sorted(maps.Keys(p.SubjectColumns))
}

// Plan validates the map against the batch headers.
func (m ColumnMap) Plan(headers []string) (MappingPlan, error) {
	plan := MappingPlan{SubjectColumns: map[string]string{}}
	if len(m) == 0 {
		return plan, errors.Wrap(ErrInvalidMapping, "mapping is empty")
	}

	known := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		known[h] = struct{}{}
	}

	assign := func(slot *string, header, target string) error {
		if *slot != "" {
			return errors.Wrapf(ErrInvalidMapping, "%s is mapped by both %q and %q", target, *slot, header)
		}
		*slot = header
		return nil
	}

	for _, header := range slices.Sorted(maps.Keys(m)) {
		target := strings.TrimSpace(m[header])
		if _, ok := known[header]; !ok {
			return plan, errors.Wrapf(ErrInvalidMapping, "header %q is not present in the file", header)
		}

		var err error
		switch {
		case target == "" || target == FieldIgnore:
			continue
		case target == FieldStudentCode:
			err = assign(&plan.StudentCode, header, target)
		case target == FieldFirstName:
			err = assign(&plan.FirstName, header, target)
		case target == FieldLastName:
			err = assign(&plan.LastName, header, target)
		case target == FieldEmail:
			err = assign(&plan.Email, header, target)
		case target == MarkerSubjectName:
			err = assign(&plan.Subject, header, target)
		case target == MarkerScoreValue:
			err = assign(&plan.Score, header, target)
		case target == MarkerAttendance:
			err = assign(&plan.Attendance, header, target)
		case target == MarkerObservation:
			err = assign(&plan.Observation, header, target)
		case target == FieldPeriod:
			err = assign(&plan.Period, header, target)
		case strings.HasPrefix(target, SubjectPrefix):
			name := strings.TrimSpace(strings.TrimPrefix(target, SubjectPrefix))
			if name == "" {
				name = header
			}
			plan.SubjectColumns[header] = name
		default:
			err = errors.Wrapf(ErrInvalidMapping, "unknown target %q for header %q", target, header)
		}
		if err != nil {
			return plan, err
		}
	}

	if plan.StudentCode == "" {
		return plan, errors.Wrapf(ErrInvalidMapping, "exactly one column must map to %s", FieldStudentCode)
	}
	if (plan.Subject == "") != (plan.Score == "") {
		return plan, errors.Wrapf(ErrInvalidMapping, "%s and %s must be mapped together", MarkerSubjectName, MarkerScoreValue)
	}
	return plan, nil
}

// Learnable returns the header/target pairs worth remembering for future uploads.
func (m ColumnMap) Learnable() map[string]string {
	out := make(map[string]string, len(m))
	for header, target := range m {
		target = strings.TrimSpace(target)
		if target == "" || target == FieldIgnore {
			continue
		}
		if IsFixedField(target) || isMarker(target) || strings.HasPrefix(target, SubjectPrefix) {
			out[header] = target
		}
	}
	return out
}

// MissingFieldError formats the row error for an absent required value.
func MissingFieldError(field, header string) string {
	return fmt.Sprintf("missing required field %s (column %q)", field, header)
}
