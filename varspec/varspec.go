// Package varspec implements the variation specification mini-language: a
// hand-written tokenizer and operator table over tokens of the form
// "+name", "-name", "@name", and "name.field=value" / "+=" / "-=", plus the
// "all" alias macro. See the variation package for how a Spec's entries are
// consumed.
package varspec

import (
	"fmt"
	"strings"
)

// Op is a field-level edit operator.
type Op int

const (
	// OpReplace sets a field to exactly one value ("=").
	OpReplace Op = iota
	// OpExtend adds a value to a field's set, without duplicating ("+=").
	OpExtend
	// OpSubtract removes a value from a field's set ("-=").
	OpSubtract
)

// FieldEdit is one field-level operation applied to an Entry's field, in the
// order it was parsed.
type FieldEdit struct {
	Op    Op
	Value string
}

// Entry is one variation's state within a Spec: whether it is enabled, and
// any field-level edits applied to its configuration.
type Entry struct {
	Enabled bool
	Fields  map[string][]FieldEdit
}

func newEntry() *Entry {
	return &Entry{Fields: make(map[string][]FieldEdit)}
}

// Spec is a mapping from variation name to its Entry. The zero value is an
// empty spec (the control build).
type Spec struct {
	entries map[string]*Entry
}

// New returns an empty Spec.
func New() *Spec {
	return &Spec{entries: make(map[string]*Entry)}
}

// Clone returns a deep copy of s, so callers can derive variant specs
// without aliasing the original's field-edit slices.
func (s *Spec) Clone() *Spec {
	next := New()
	for name, e := range s.entries {
		ne := newEntry()
		ne.Enabled = e.Enabled
		for field, edits := range e.Fields {
			ne.Fields[field] = append([]FieldEdit{}, edits...)
		}
		next.entries[name] = ne
	}
	return next
}

// Enabled reports whether name is enabled in the spec.
func (s *Spec) Enabled(name string) bool {
	e, ok := s.entries[name]
	return ok && e.Enabled
}

// Entry returns name's entry, or nil if the variation is not present.
func (s *Spec) Entry(name string) *Entry {
	return s.entries[name]
}

// SetEnabled enables or disables name, clearing any field edits -- the
// "default configuration" the +/- prefixes restore.
func (s *Spec) SetEnabled(name string, enabled bool) {
	s.entries[name] = &Entry{Enabled: enabled, Fields: make(map[string][]FieldEdit)}
}

// EditField appends a field-level edit to name's entry, enabling it first
// if it is not already present.
func (s *Spec) EditField(name, field string, op Op, value string) {
	e, ok := s.entries[name]
	if !ok {
		e = &Entry{Enabled: true, Fields: make(map[string][]FieldEdit)}
		s.entries[name] = e
	}
	e.Fields[field] = append(e.Fields[field], FieldEdit{Op: op, Value: value})
}

// ResolveSet computes the final ordered set for a field given extend/
// subtract/replace edits and the variation's own defaults. Order of first
// appearance is preserved; OpExtend is idempotent (adding twice is a no-op).
func (e *Entry) ResolveSet(field string, defaults []string) []string {
	if e == nil {
		return append([]string{}, defaults...)
	}
	edits, ok := e.Fields[field]
	if !ok {
		return append([]string{}, defaults...)
	}

	var order []string
	set := make(map[string]bool)
	add := func(v string) {
		if !set[v] {
			set[v] = true
			order = append(order, v)
		}
	}
	remove := func(v string) {
		if set[v] {
			delete(set, v)
			for i, existing := range order {
				if existing == v {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		}
	}

	started := false
	for _, edit := range edits {
		switch edit.Op {
		case OpReplace:
			order = nil
			set = make(map[string]bool)
			add(edit.Value)
			started = true
		case OpExtend:
			if !started {
				for _, d := range defaults {
					add(d)
				}
				started = true
			}
			add(edit.Value)
		case OpSubtract:
			if !started {
				for _, d := range defaults {
					add(d)
				}
				started = true
			}
			remove(edit.Value)
		}
	}
	if !started {
		return append([]string{}, defaults...)
	}
	return order
}

// ResolveScalar returns the last OpReplace value applied to field, or def.
func (e *Entry) ResolveScalar(field, def string) string {
	if e == nil {
		return def
	}
	val := def
	for _, edit := range e.Fields[field] {
		if edit.Op == OpReplace {
			val = edit.Value
		}
	}
	return val
}

// ParseError reports a malformed token or reference to an unregistered
// variation name.
type ParseError struct {
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid variation token %q: %s", e.Token, e.Reason)
}

// Parse tokenizes s (a comma- or whitespace-separated list of tokens) and
// builds a Spec, expanding the "all" alias against validNames.
func Parse(s string, validNames []string) (*Spec, error) {
	spec := New()
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})

	validSet := make(map[string]bool, len(validNames))
	for _, n := range validNames {
		validSet[n] = true
	}

	for _, tok := range fields {
		if err := applyToken(spec, tok, validNames, validSet); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func applyToken(spec *Spec, tok string, validNames []string, validSet map[string]bool) error {
	if tok == "" {
		return nil
	}

	prefix := byte('+')
	rest := tok
	switch tok[0] {
	case '+', '-', '@':
		prefix = tok[0]
		rest = tok[1:]
	}
	if rest == "" {
		return &ParseError{Token: tok, Reason: "missing variation name"}
	}

	name, field, op, value, hasField, err := splitNameField(rest)
	if err != nil {
		return &ParseError{Token: tok, Reason: err.Error()}
	}

	if name == "all" {
		if hasField {
			return &ParseError{Token: tok, Reason: "\"all\" does not take a field"}
		}
		for _, n := range validNames {
			applyPrefix(spec, n, prefix)
		}
		return nil
	}

	if !validSet[name] {
		return &ParseError{Token: tok, Reason: "unrecognized variation name"}
	}

	if !hasField {
		applyPrefix(spec, name, prefix)
		return nil
	}

	spec.EditField(name, field, op, value)
	return nil
}

func applyPrefix(spec *Spec, name string, prefix byte) {
	switch prefix {
	case '+', '@':
		spec.SetEnabled(name, true)
	case '-':
		spec.SetEnabled(name, false)
	}
}

// splitNameField splits "name" or "name.field<op>value" into its parts.
func splitNameField(rest string) (name, field string, op Op, value string, hasField bool, err error) {
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return rest, "", 0, "", false, nil
	}
	name = rest[:dot]
	remainder := rest[dot+1:]

	opIdx, opLen, parsedOp, found := findOperator(remainder)
	if !found {
		return "", "", 0, "", false, fmt.Errorf("field assignment missing operator (=, +=, -=)")
	}
	field = remainder[:opIdx]
	value = remainder[opIdx+opLen:]
	if field == "" {
		return "", "", 0, "", false, fmt.Errorf("missing field name before operator")
	}
	return name, field, parsedOp, value, true, nil
}

// DynamicDefaultError reports a dynamic-default token this Spec doesn't
// know how to resolve -- the plan is rejected rather than silently ignored.
type DynamicDefaultError struct {
	Variation string
	Field     string
	Token     string
}

func (e *DynamicDefaultError) Error() string {
	return fmt.Sprintf("unrecognized dynamic default %q for %s.%s", e.Token, e.Variation, e.Field)
}

// ApplyDynamicDefaults resolves the "time" variation's "auto_faketimes"
// tokens against sourceDateEpoch (the max mtime under the source tree,
// conventionally SOURCE_DATE_EPOCH) and merges the result into
// "faketimes", returning a new Spec. Any token other than
// "SOURCE_DATE_EPOCH" fails the plan.
func (s *Spec) ApplyDynamicDefaults(sourceDateEpoch int64) (*Spec, error) {
	next := s.Clone()
	e, ok := next.entries["time"]
	if !ok {
		return next, nil
	}
	for _, edit := range e.Fields["auto_faketimes"] {
		switch edit.Value {
		case "SOURCE_DATE_EPOCH":
			e.Fields["faketimes"] = append(e.Fields["faketimes"], FieldEdit{
				Op:    OpExtend,
				Value: fmt.Sprintf("@%d", sourceDateEpoch),
			})
		default:
			return nil, &DynamicDefaultError{Variation: "time", Field: "auto_faketimes", Token: edit.Value}
		}
	}
	return next, nil
}

func findOperator(s string) (idx, length int, op Op, found bool) {
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "+="):
			return i, 2, OpExtend, true
		case strings.HasPrefix(s[i:], "-="):
			return i, 2, OpSubtract, true
		case s[i] == '=':
			return i, 1, OpReplace, true
		}
	}
	return 0, 0, 0, false
}
