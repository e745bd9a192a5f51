// Package dataform implements the subset of XEP-0004 data forms the
// registration flow needs: parsing a server form and encoding a submission.
package dataform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Form types.
const (
	TypeForm   = "form"
	TypeSubmit = "submit"
	TypeCancel = "cancel"
	TypeResult = "result"
)

// Field types.
const (
	FieldBoolean     = "boolean"
	FieldFixed       = "fixed"
	FieldHidden      = "hidden"
	FieldJIDMulti    = "jid-multi"
	FieldJIDSingle   = "jid-single"
	FieldListMulti   = "list-multi"
	FieldListSingle  = "list-single"
	FieldTextMulti   = "text-multi"
	FieldTextPrivate = "text-private"
	FieldTextSingle  = "text-single"
)

var ErrNotDataForm = errors.New("dataform: element is not a data form")

type Option struct {
	Label string
	Value string
}

type Field struct {
	Var      string
	Type     string
	Label    string
	Desc     string
	Required bool
	Values   []string
	Options  []Option
}

// Value returns the first value of f, or "".
func (f Field) Value() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// EffectiveType returns the declared type, defaulting to text-single.
func (f Field) EffectiveType() string {
	if t := strings.TrimSpace(f.Type); t != "" {
		return t
	}
	return FieldTextSingle
}

type Form struct {
	Type         string
	Title        string
	Instructions string
	Fields       []Field
}

// Parse decodes an <x xmlns="jabber:x:data"/> element. Fields without a
// var attribute are kept; deciding what to do with them is up to the caller.
func Parse(el *stanza.Element) (Form, error) {
	if !el.Is(stanza.NSDataForm, "x") {
		return Form{}, ErrNotDataForm
	}
	form := Form{Type: strings.TrimSpace(el.Attr("type"))}
	form.Title, _ = el.ChildText(stanza.NSDataForm, "title")
	form.Instructions, _ = el.ChildText(stanza.NSDataForm, "instructions")
	for _, fe := range el.ChildrenNamed(stanza.NSDataForm, "field") {
		form.Fields = append(form.Fields, parseField(fe))
	}
	return form, nil
}

func parseField(fe *stanza.Element) Field {
	f := Field{
		Var:      fe.Attr("var"),
		Type:     strings.TrimSpace(fe.Attr("type")),
		Label:    fe.Attr("label"),
		Required: fe.Child(stanza.NSDataForm, "required") != nil,
	}
	f.Desc, _ = fe.ChildText(stanza.NSDataForm, "desc")
	for _, v := range fe.ChildrenNamed(stanza.NSDataForm, "value") {
		f.Values = append(f.Values, v.Text)
	}
	for _, o := range fe.ChildrenNamed(stanza.NSDataForm, "option") {
		value, _ := o.ChildText(stanza.NSDataForm, "value")
		f.Options = append(f.Options, Option{Label: o.Attr("label"), Value: value})
	}
	return f
}

// EncodeValues translates one user-supplied value into wire values for a
// field of type typ. Multi-value types split on newlines; booleans are
// normalized to "1" or "0".
func EncodeValues(typ, raw string) []string {
	switch typ {
	case FieldTextMulti, FieldJIDMulti, FieldListMulti:
		raw = strings.ReplaceAll(raw, "\r\n", "\n")
		if raw == "" {
			return nil
		}
		parts := strings.Split(raw, "\n")
		if typ == FieldTextMulti {
			return parts
		}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case FieldBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "on", "yes":
			return []string{"1"}
		default:
			return []string{"0"}
		}
	default:
		return []string{raw}
	}
}

// SubmitField is one (var, type, value) triple of a submission.
type SubmitField struct {
	Var   string
	Type  string
	Value string
}

// Submit encodes a type="submit" form. Fields carry their declared type,
// defaulting to text-single.
func Submit(fields []SubmitField) (*stanza.Element, error) {
	x := stanza.NewElement(stanza.NSDataForm, "x").WithAttr("type", TypeSubmit)
	for i, f := range fields {
		if strings.TrimSpace(f.Var) == "" {
			return nil, fmt.Errorf("dataform: submit field[%d] missing var", i)
		}
		typ := Field{Type: f.Type}.EffectiveType()
		fe := stanza.NewElement(stanza.NSDataForm, "field").
			WithAttr("var", f.Var).
			WithAttr("type", typ)
		for _, v := range EncodeValues(typ, f.Value) {
			fe.Append(stanza.NewElement(stanza.NSDataForm, "value").WithText(v))
		}
		x.Append(fe)
	}
	return x, nil
}
