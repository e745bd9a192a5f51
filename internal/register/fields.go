package register

import (
	"strings"

	"github.com/danmuck/regctl/internal/protocol/dataform"
)

// FormKind records which encoding the server used for its field set.
// Submissions must be encoded the same way.
type FormKind int

const (
	FormUnknown FormKind = iota
	FormLegacy
	FormExtended
)

func (k FormKind) String() string {
	switch k {
	case FormLegacy:
		return "legacy"
	case FormExtended:
		return "xform"
	default:
		return "unknown"
	}
}

// Field is one registration input. Key is the lower-cased identifier used
// for lookups; Var is the name exactly as the server declared it and is what
// goes back on the wire.
type Field struct {
	Key      string
	Var      string
	Type     string
	Label    string
	Desc     string
	Required bool
	Options  []dataform.Option
	Value    string
}

// InputType suggests how a caller should render f.
func (f Field) InputType() string {
	switch f.Type {
	case "":
		switch f.Key {
		case "password", "email":
			return f.Key
		}
		return "text"
	case dataform.FieldTextPrivate:
		return "password"
	case dataform.FieldHidden:
		return "hidden"
	case dataform.FieldBoolean:
		return "checkbox"
	case dataform.FieldFixed:
		return "label"
	case dataform.FieldListSingle, dataform.FieldListMulti:
		return "select"
	case dataform.FieldTextMulti, dataform.FieldJIDMulti:
		return "textarea"
	default:
		return "text"
	}
}

// Fields is the normalized snapshot of what a server requires to register.
// Entries keep insertion order; a repeated key overwrites the earlier value
// in place.
type Fields struct {
	Kind         FormKind
	Title        string
	Instructions string
	URLs         []string

	entries []Field
	index   map[string]int
}

// Set inserts or replaces the field with f.Key.
func (f *Fields) Set(field Field) {
	field.Key = strings.ToLower(strings.TrimSpace(field.Key))
	if field.Key == "" {
		return
	}
	if field.Var == "" {
		field.Var = field.Key
	}
	if f.index == nil {
		f.index = make(map[string]int)
	}
	if i, ok := f.index[field.Key]; ok {
		f.entries[i] = field
		return
	}
	f.index[field.Key] = len(f.entries)
	f.entries = append(f.entries, field)
}

func (f Fields) Get(key string) (Field, bool) {
	i, ok := f.index[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Field{}, false
	}
	return f.entries[i], true
}

// Value returns the current value for key, or "".
func (f Fields) Value(key string) string {
	field, _ := f.Get(key)
	return field.Value
}

func (f Fields) Len() int {
	return len(f.entries)
}

func (f Fields) Keys() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Key
	}
	return out
}

// Entries returns a copy of the fields in insertion order.
func (f Fields) Entries() []Field {
	out := make([]Field, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f Fields) Clone() Fields {
	out := Fields{
		Kind:         f.Kind,
		Title:        f.Title,
		Instructions: f.Instructions,
	}
	if len(f.URLs) > 0 {
		out.URLs = append([]string(nil), f.URLs...)
	}
	for _, e := range f.entries {
		if len(e.Options) > 0 {
			e.Options = append([]dataform.Option(nil), e.Options...)
		}
		out.Set(e)
	}
	return out
}

// withValues returns a copy whose field values are taken from values
// (matched case-insensitively by key). Fields with no submitted value keep
// their pre-filled value.
func (f Fields) withValues(values map[string]string) Fields {
	lowered := make(map[string]string, len(values))
	for k, v := range values {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}
	out := f.Clone()
	for i, e := range out.entries {
		if v, ok := lowered[e.Key]; ok {
			out.entries[i].Value = v
		}
	}
	return out
}

// credentials reports the captured username and password when both are set.
func (f Fields) credentials() (string, string, bool) {
	username, password := f.Value("username"), f.Value("password")
	if username == "" || password == "" {
		return "", "", false
	}
	return username, password, true
}
