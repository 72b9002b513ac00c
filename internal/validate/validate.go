// Package validate is the single validate-or-reject gate applied to every raw
// upstream record before it reaches a store.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
)

// Violation is one field-level rejection reason.
type Violation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
	Value any    `json:"value,omitempty"`
}

func (v Violation) String() string {
	if v.Param != "" {
		return fmt.Sprintf("%s: %s=%s", v.Field, v.Rule, v.Param)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Rule)
}

// Result is either a typed record ready for insert or the reasons it was
// rejected. Record is the zero value when Violations is non-empty.
type Result[T any] struct {
	Record     T
	Violations []Violation
}

// OK reports whether the record passed validation.
func (r Result[T]) OK() bool {
	return len(r.Violations) == 0
}

// Gate converts raw upstream records into typed rows.
type Gate struct {
	v *validator.Validate
}

// New builds a Gate. Violation field names use the JSON names of the typed rows.
func New() *Gate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Gate{v: v}
}

// Solicitation validates a top-level upstream record.
func (g *Gate) Solicitation(raw any) Result[grants.Solicitation] {
	rec, ok := grants.AsRecord(raw)
	if !ok {
		return notAnObject[grants.Solicitation](raw)
	}
	f := fields{rec: rec}
	s := grants.Solicitation{
		SolicitationID:      f.text("solicitation_id"),
		Title:               f.text("solicitation_title"),
		Number:              f.text("solicitation_number"),
		Program:             f.text("program"),
		Phase:               f.text("phase"),
		Agency:              f.text("agency"),
		Branch:              f.text("branch"),
		Year:                f.text("solicitation_year"),
		ReleaseDate:         f.text("release_date"),
		OpenDate:            f.text("open_date"),
		CloseDate:           f.text("close_date"),
		ApplicationDueDates: f.textList("application_due_date"),
		AgencyURL:           f.text("solicitation_agency_url"),
		CurrentStatus:       f.text("current_status"),
	}
	return check(g, s, f.violations)
}

// Topic validates a nested topic record belonging to solicitationFK.
func (g *Gate) Topic(raw any, solicitationFK int64) Result[grants.Topic] {
	rec, ok := grants.AsRecord(raw)
	if !ok {
		return notAnObject[grants.Topic](raw)
	}
	f := fields{rec: rec}
	t := grants.Topic{
		SolicitationFK: solicitationFK,
		Title:          f.text("topic_title"),
		Number:         f.text("topic_number"),
		Branch:         f.text("branch"),
		OpenDate:       f.text("topic_open_date"),
		ClosedDate:     f.text("topic_closed_date"),
		Description:    f.text("topic_description"),
		Link:           f.text("sbir_topic_link"),
	}
	return check(g, t, f.violations)
}

// Subtopic validates a nested subtopic record belonging to topicFK.
func (g *Gate) Subtopic(raw any, topicFK int64) Result[grants.Subtopic] {
	rec, ok := grants.AsRecord(raw)
	if !ok {
		return notAnObject[grants.Subtopic](raw)
	}
	f := fields{rec: rec}
	st := grants.Subtopic{
		TopicFK:     topicFK,
		Title:       f.text("subtopic_title"),
		Branch:      f.text("branch"),
		Number:      f.text("subtopic_number"),
		Description: f.text("subtopic_description"),
		Link:        f.text("sbir_subtopic_link"),
	}
	return check(g, st, f.violations)
}

func check[T any](g *Gate, row T, coerced []Violation) Result[T] {
	violations := append([]Violation(nil), coerced...)
	if err := g.v.Struct(row); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			violations = append(violations, Violation{Field: "record", Rule: "invalid", Value: err.Error()})
		}
		for _, fe := range fieldErrs {
			violations = append(violations, Violation{
				Field: fe.Field(),
				Rule:  fe.Tag(),
				Param: fe.Param(),
				Value: summarize(fe.Value()),
			})
		}
	}
	if len(violations) > 0 {
		var zero T
		return Result[T]{Record: zero, Violations: violations}
	}
	return Result[T]{Record: row}
}

func notAnObject[T any](raw any) Result[T] {
	return Result[T]{Violations: []Violation{{
		Field: "record",
		Rule:  "object",
		Value: fmt.Sprintf("%T", raw),
	}}}
}

// summarize keeps long descriptions out of log lines.
func summarize(v any) any {
	if p, ok := v.(*string); ok {
		if p == nil {
			return nil
		}
		v = *p
	}
	if s, ok := v.(string); ok && len(s) > 120 {
		return fmt.Sprintf("%s… (%d bytes)", s[:120], len(s))
	}
	return v
}

// fields collects coercion failures while a row is being built.
type fields struct {
	rec        grants.RawRecord
	violations []Violation
}

func (f *fields) text(key string) *string {
	s, err := f.rec.Text(key)
	if err != nil {
		f.violations = append(f.violations, Violation{Field: key, Rule: "type", Value: fmt.Sprintf("%T", f.rec[key])})
		return nil
	}
	return s
}

func (f *fields) textList(key string) []string {
	list, err := f.rec.TextList(key)
	if err != nil {
		var typeErr *grants.TypeError
		field := key
		if errors.As(err, &typeErr) {
			field = typeErr.Field
		}
		f.violations = append(f.violations, Violation{Field: field, Rule: "type"})
		return nil
	}
	return list
}
