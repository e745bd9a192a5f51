package register

import (
	"strings"

	"github.com/danmuck/regctl/internal/protocol/dataform"
	"github.com/danmuck/regctl/internal/protocol/stanza"
)

// Extract normalizes a registration payload into Fields.
//
// A data-form descendant selects the extended encoding; otherwise the direct
// children are read as legacy flat fields. Data-form fields without a var are
// skipped and reported as *UnparsableFieldError diagnostics; they never abort
// extraction.
func Extract(query *stanza.Element) (Fields, []error) {
	var (
		out   Fields
		diags []error
	)
	if x := query.Find(stanza.NSDataForm, "x"); x != nil {
		out, diags = extractForm(x)
	} else {
		out = extractLegacy(query)
	}
	for _, oob := range query.ChildrenNamed(stanza.NSOOB, "x") {
		for _, u := range oob.ChildrenNamed("", "url") {
			if url := strings.TrimSpace(u.Text); url != "" {
				out.URLs = append(out.URLs, url)
			}
		}
	}
	return out, diags
}

func extractForm(x *stanza.Element) (Fields, []error) {
	out := Fields{Kind: FormExtended}
	form, err := dataform.Parse(x)
	if err != nil {
		return out, []error{err}
	}
	out.Title = form.Title
	out.Instructions = form.Instructions

	var diags []error
	for i, f := range form.Fields {
		if strings.TrimSpace(f.Var) == "" {
			diags = append(diags, &UnparsableFieldError{Index: i, Type: f.EffectiveType(), Reason: "missing var"})
			continue
		}
		out.Set(Field{
			Key:      strings.ToLower(f.Var),
			Var:      f.Var,
			Type:     f.EffectiveType(),
			Label:    f.Label,
			Desc:     f.Desc,
			Required: f.Required,
			Options:  f.Options,
			Value:    f.Value(),
		})
	}
	return out, diags
}

func extractLegacy(query *stanza.Element) Fields {
	out := Fields{Kind: FormLegacy}
	for _, c := range query.Children {
		tag := strings.ToLower(c.XMLName.Local)
		switch {
		case tag == "instructions":
			out.Instructions = strings.TrimSpace(c.Text)
		case tag == "x":
			// jabber:x:oob is collected by Extract; other extensions carry no fields.
		default:
			out.Set(Field{Key: tag, Var: c.XMLName.Local, Value: strings.TrimSpace(c.Text)})
		}
	}
	return out
}
