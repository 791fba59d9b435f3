package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-crudform/pkg/entity"
)

// Result carries the outcome of a validation pass. Errors maps field names to
// human-readable messages; a nil map means the record is valid.
type Result struct {
	Errors map[string][]string
}

// Valid reports whether no field failed validation.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Fields returns the failing field names sorted alphabetically.
func (r Result) Fields() []string {
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Message returns the first message recorded for field.
func (r Result) Message(field string) string {
	if msgs := r.Errors[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// Validate checks record against the editable fields of s. It is pure and
// never panics on malformed values; every problem is reported through the
// returned Result.
func Validate(s entity.Schema, record entity.Record) Result {
	var result Result
	for _, field := range s.EditableFields() {
		if msg := validateField(field, record[field.Name]); msg != "" {
			if result.Errors == nil {
				result.Errors = make(map[string][]string)
			}
			result.Errors[field.Name] = []string{msg}
		}
	}
	return result
}

// ValidateField checks a single value against field.
func ValidateField(field entity.Field, value any) string {
	return validateField(field, value)
}

func validateField(field entity.Field, value any) string {
	label := field.DisplayLabel()

	if isUnset(field, value) {
		if field.Required {
			return fmt.Sprintf("%s is required", label)
		}
		return ""
	}

	rules := collectRules(field)

	switch {
	case field.Type == entity.FieldTypeInteger:
		n, ok := integerValue(value)
		if !ok {
			return fmt.Sprintf("%s must be an integer", label)
		}
		return rules.checkNumber(label, float64(n))
	case field.Type == entity.FieldTypeDate:
		if _, ok := dateValue(value); !ok {
			return fmt.Sprintf("%s must be a valid date", label)
		}
		return ""
	case field.Type == entity.FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("%s must be true or false", label)
		}
		return ""
	case field.IsReference():
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("%s must reference a record id", label)
		}
		return ""
	default:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be text", label)
		}
		return rules.checkString(label, s)
	}
}

// isUnset treats nil, empty strings on reference/required string fields and
// zero dates as absent. Absence and explicit null are equivalent.
func isUnset(field entity.Field, value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == "" && (field.IsReference() || field.Required || field.Type == entity.FieldTypeDate || field.Type == entity.FieldTypeInteger)
	default:
		if field.Type == entity.FieldTypeDate {
			_, ok := dateValue(value)
			return !ok && isZeroTime(value)
		}
		return false
	}
}

func isZeroTime(value any) bool {
	type zeroer interface{ IsZero() bool }
	if z, ok := value.(zeroer); ok {
		return z.IsZero()
	}
	return false
}

type validationRules struct {
	min     *float64
	max     *float64
	minLen  *int
	maxLen  *int
	pattern *regexp.Regexp
}

func collectRules(field entity.Field) validationRules {
	var rules validationRules
	for _, v := range field.Validations {
		switch v.Kind {
		case entity.ValidationRuleMin:
			if val, err := strconv.ParseFloat(v.Params["value"], 64); err == nil {
				rules.min = &val
			}
		case entity.ValidationRuleMax:
			if val, err := strconv.ParseFloat(v.Params["value"], 64); err == nil {
				rules.max = &val
			}
		case entity.ValidationRuleMinLength:
			if val, err := strconv.Atoi(v.Params["value"]); err == nil {
				rules.minLen = &val
			}
		case entity.ValidationRuleMaxLength:
			if val, err := strconv.Atoi(v.Params["value"]); err == nil {
				rules.maxLen = &val
			}
		case entity.ValidationRulePattern:
			if expr := v.Params["pattern"]; expr != "" {
				if re, err := regexp.Compile(expr); err == nil {
					rules.pattern = re
				}
			}
		}
	}
	return rules
}

func (r validationRules) checkNumber(label string, v float64) string {
	if r.min != nil && v < *r.min {
		return fmt.Sprintf("%s must be greater than or equal to %v", label, *r.min)
	}
	if r.max != nil && v > *r.max {
		return fmt.Sprintf("%s must be less than or equal to %v", label, *r.max)
	}
	return ""
}

func (r validationRules) checkString(label, value string) string {
	length := utf8.RuneCountInString(value)
	if r.minLen != nil && length < *r.minLen {
		return fmt.Sprintf("%s must be at least %d characters", label, *r.minLen)
	}
	if r.maxLen != nil && length > *r.maxLen {
		return fmt.Sprintf("%s must be at most %d characters", label, *r.maxLen)
	}
	if r.pattern != nil && !r.pattern.MatchString(value) {
		return fmt.Sprintf("%s has an invalid format", label)
	}
	return ""
}
