package filters

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Reserved paging field names.
const (
	PageField  = "page"
	LimitField = "limit"
)

// Kind identifies the primitive type of a declared filter field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Field declares a single filter with its canonical default.
// AlwaysEmit keeps the field in query output even when it equals the default.
// Min, when non-zero, is the lowest accepted value of an int field.
type Field struct {
	Name       string
	Kind       Kind
	Default    any
	AlwaysEmit bool
	Min        int
}

// Set is a normalized filter mapping. Every declared field is present.
// Values are string, int, time.Time (UTC) or nil for undefined.
type Set map[string]any

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets hold the same keys with equal values.
// Dates compare by instant.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !equalValue(v, ov) {
			return false
		}
	}
	return true
}

// Schema is the ordered list of filters a collection accepts.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Later fields with a duplicate name replace
// earlier ones. Defaults are coerced to the field kind.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		f.Default = canonicalDefault(f)
		if i, ok := s.index[f.Name]; ok {
			s.fields[i] = f
			continue
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s
}

// Paging returns the page and limit fields. Both are always emitted so that
// request parameters carry them explicitly.
func Paging(defaultLimit int) []Field {
	if defaultLimit < 1 {
		defaultLimit = 10
	}
	return []Field{
		{Name: PageField, Kind: KindInt, Default: 1, AlwaysEmit: true, Min: 1},
		{Name: LimitField, Kind: KindInt, Default: defaultLimit, AlwaysEmit: true, Min: 1},
	}
}

// String declares a string filter with an empty default.
func String(name string) Field { return Field{Name: name, Kind: KindString, Default: ""} }

// Int declares an int filter.
func Int(name string, def int) Field { return Field{Name: name, Kind: KindInt, Default: def} }

// Date declares a date filter that is undefined by default.
func Date(name string) Field { return Field{Name: name, Kind: KindDate} }

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Field looks up a declared field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Defaults returns a set holding every field at its default.
func (s *Schema) Defaults() Set {
	out := make(Set, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = f.Default
	}
	return out
}

// Normalize fills every declared field, replacing absent, empty or
// malformed values with the field default. Undeclared keys are dropped.
func (s *Schema) Normalize(raw map[string]any) Set {
	out := make(Set, len(s.fields))
	for _, f := range s.fields {
		v, ok := raw[f.Name]
		if !ok {
			out[f.Name] = f.Default
			continue
		}
		out[f.Name] = coerce(f, v)
	}
	return out
}

// ToQuery renders a flat representation of the set. Fields equal to their
// default are omitted unless declared AlwaysEmit. Dates use RFC 3339 in UTC.
func (s *Schema) ToQuery(set Set) map[string]string {
	set = s.Normalize(set)
	out := make(map[string]string, len(set))
	for _, f := range s.fields {
		v := set[f.Name]
		if !f.AlwaysEmit && equalValue(v, f.Default) {
			continue
		}
		if v == nil {
			continue
		}
		out[f.Name] = format(v)
	}
	return out
}

// FromQuery decodes a flat representation produced by ToQuery.
func (s *Schema) FromQuery(q map[string]string) Set {
	raw := make(map[string]any, len(q))
	for k, v := range q {
		raw[k] = v
	}
	return s.Normalize(raw)
}

// FromValues decodes url.Values, taking the first value of each key.
func (s *Schema) FromValues(v url.Values) Set {
	q := make(map[string]string, len(v))
	for k := range v {
		q[k] = v.Get(k)
	}
	return s.FromQuery(q)
}

// Values encodes the set as url.Values.
func (s *Schema) Values(set Set) url.Values {
	out := url.Values{}
	for k, v := range s.ToQuery(set) {
		out.Set(k, v)
	}
	return out
}

// Equal compares two sets after normalization.
func (s *Schema) Equal(a, b Set) bool {
	na, nb := s.Normalize(a), s.Normalize(b)
	for _, f := range s.fields {
		if !equalValue(na[f.Name], nb[f.Name]) {
			return false
		}
	}
	return true
}

// WithoutPaging returns the normalized set minus the page and limit fields.
func (s *Schema) WithoutPaging(set Set) Set {
	out := s.Normalize(set)
	delete(out, PageField)
	delete(out, LimitField)
	return out
}

// Names returns the declared field names sorted alphabetically.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func canonicalDefault(f Field) any {
	switch f.Kind {
	case KindString:
		if str, ok := f.Default.(string); ok {
			return str
		}
		return ""
	case KindInt:
		if n, ok := toInt(f.Default); ok {
			return n
		}
		return 0
	case KindDate:
		if t, ok := toTime(f.Default); ok {
			return t
		}
		return nil
	}
	return nil
}

func coerce(f Field, v any) any {
	if v == nil {
		return f.Default
	}
	if str, ok := v.(string); ok && strings.TrimSpace(str) == "" {
		return f.Default
	}

	switch f.Kind {
	case KindString:
		switch tv := v.(type) {
		case string:
			return tv
		case int:
			return strconv.Itoa(tv)
		}
		return f.Default
	case KindInt:
		n, ok := toInt(v)
		if !ok || (f.Min != 0 && n < f.Min) {
			return f.Default
		}
		return n
	case KindDate:
		t, ok := toTime(v)
		if !ok {
			return f.Default
		}
		return t
	}
	return f.Default
}

func toInt(v any) (int, bool) {
	switch tv := v.(type) {
	case int:
		return tv, true
	case int32:
		return int(tv), true
	case int64:
		return int(tv), true
	case float64:
		if tv != float64(int(tv)) {
			return 0, false
		}
		return int(tv), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(tv))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		if tv.IsZero() {
			return time.Time{}, false
		}
		return tv.UTC(), true
	case *time.Time:
		if tv == nil || tv.IsZero() {
			return time.Time{}, false
		}
		return tv.UTC(), true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(tv)); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func format(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case int:
		return strconv.Itoa(tv)
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

func equalValue(a, b any) bool {
	ta, aok := a.(time.Time)
	tb, bok := b.(time.Time)
	if aok || bok {
		return aok && bok && ta.Equal(tb)
	}
	return a == b
}
