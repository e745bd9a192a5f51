package register

import (
	"encoding/xml"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/danmuck/regctl/internal/protocol/stanza"
)

func legacyName() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9_-]{0,11}`).Filter(func(s string) bool {
		return s != "instructions" && s != "x" && !strings.HasPrefix(s, "xml")
	})
}

func TestPropertyLegacyRoundTripKeepsKeys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfNDistinct(legacyName(), 1, 8, func(s string) string { return s }).Draw(t, "names")
		query := stanza.NewElement(stanza.NSRegister, "query")
		for _, name := range names {
			prefill := rapid.StringMatching(`[a-zA-Z0-9@.]{0,8}`).Draw(t, "prefill")
			query.Append(stanza.NewElement(stanza.NSRegister, name).WithText(prefill))
		}

		fields, diags := Extract(decodeRapid(t, query.String()))
		if len(diags) != 0 {
			t.Fatalf("unexpected diagnostics: %v", diags)
		}
		if !reflect.DeepEqual(fields.Keys(), names) {
			t.Fatalf("extracted keys %v, want %v", fields.Keys(), names)
		}

		values := make(map[string]string, len(names))
		for _, key := range fields.Keys() {
			values[key] = rapid.StringMatching(`[a-zA-Z0-9 ]{0,10}`).Draw(t, "value")
		}
		st, err := BuildFieldSubmission("p1", fields, values)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		wire := decodeRapid(t, st.String())
		sub := wire.Child(stanza.NSRegister, "query")
		if sub == nil {
			t.Fatalf("submission lacks query: %s", st)
		}
		var got []string
		for _, c := range sub.Children {
			got = append(got, c.XMLName.Local)
			if c.Text != values[c.XMLName.Local] {
				t.Fatalf("field %s = %q, want %q", c.XMLName.Local, c.Text, values[c.XMLName.Local])
			}
		}
		if !reflect.DeepEqual(got, names) {
			t.Fatalf("submitted keys %v, want %v", got, names)
		}
	})
}

func TestPropertyDataFormExtractionCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		x := stanza.NewElement(stanza.NSDataForm, "x").WithAttr("type", "form")
		missing := 0
		for i := 0; i < n; i++ {
			field := stanza.NewElement(stanza.NSDataForm, "field").
				WithAttr("type", rapid.SampledFrom([]string{"text-single", "text-private", "hidden", "boolean", "fixed"}).Draw(t, "type"))
			if rapid.Bool().Draw(t, "hasVar") {
				field.SetAttr("var", fmt.Sprintf("Field_%d", i))
			} else {
				missing++
			}
			if rapid.Bool().Draw(t, "hasValue") {
				field.Append(stanza.NewElement(stanza.NSDataForm, "value").WithText("v"))
			}
			x.Append(field)
		}
		query := stanza.NewElement(stanza.NSRegister, "query").Append(x)

		fields, diags := Extract(decodeRapid(t, query.String()))
		if fields.Kind != FormExtended {
			t.Fatalf("kind = %s", fields.Kind)
		}
		if fields.Len() != n-missing {
			t.Fatalf("entries = %d, want %d", fields.Len(), n-missing)
		}
		if len(diags) != missing {
			t.Fatalf("diagnostics = %d, want %d", len(diags), missing)
		}
	})
}

func TestPropertyClassifierIsTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := rapid.SampledFrom([]string{"result", "error", ""}).Draw(t, "type")
		count := rapid.IntRange(0, 2).Draw(t, "errors")
		tag := rapid.SampledFrom([]string{"conflict", "not-acceptable", "bad-request", "service-unavailable", "Conflict"}).Draw(t, "tag")

		iq := stanza.NewIQ(typ, "c1")
		if typ == "" {
			iq.Attrs = iq.Attrs[1:]
		}
		for i := 0; i < count; i++ {
			iq.Append(stanza.NewElement("", "error").Append(stanza.NewElement(stanza.NSStanzas, tag)))
		}
		out := ClassifyResult(iq)

		var want Status
		switch {
		case typ != "error":
			want = StatusRegistered
		case count != 1:
			want = StatusRegistrationFailed
		case tag == "conflict" || tag == "Conflict":
			want = StatusAccountConflict
		case tag == "not-acceptable":
			want = StatusNotAcceptable
		default:
			want = StatusRegistrationFailed
		}
		if out.Status != want {
			t.Fatalf("type=%q errors=%d tag=%q: got %s, want %s", typ, count, tag, out.Status, want)
		}
		if (out.Failure() == nil) != (want == StatusRegistered) {
			t.Fatalf("failure presence mismatch for %+v", out)
		}
	})
}

func decodeRapid(t *rapid.T, raw string) *stanza.Element {
	var el stanza.Element
	if err := xml.Unmarshal([]byte(raw), &el); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return &el
}
