package dataform

import (
	"encoding/xml"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/regctl/internal/protocol/stanza"
	"github.com/danmuck/regctl/internal/testutil/testlog"
)

const registrationForm = `<x xmlns='jabber:x:data' type='form'>
  <title>Create an account</title>
  <instructions>Choose a username and password.</instructions>
  <field type='hidden' var='FORM_TYPE'><value>jabber:iq:register</value></field>
  <field type='text-single' label='Username' var='username'><required/></field>
  <field type='text-private' label='Password' var='password'><required/></field>
  <field type='list-single' label='Plan' var='plan'>
    <desc>Storage plan</desc>
    <option label='Free'><value>free</value></option>
    <option label='Pro'><value>pro</value></option>
  </field>
  <field type='fixed'><value>Section break</value></field>
</x>`

func parseRaw(t *testing.T, raw string) *stanza.Element {
	t.Helper()
	var el stanza.Element
	if err := xml.Unmarshal([]byte(raw), &el); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &el
}

func TestParseRegistrationForm(t *testing.T) {
	testlog.Start(t)
	form, err := Parse(parseRaw(t, registrationForm))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if form.Type != TypeForm || form.Title != "Create an account" {
		t.Fatalf("unexpected header: %+v", form)
	}
	if form.Instructions != "Choose a username and password." {
		t.Fatalf("unexpected instructions: %q", form.Instructions)
	}
	if len(form.Fields) != 5 {
		t.Fatalf("unexpected field count: %d", len(form.Fields))
	}
	if form.Fields[0].Var != "FORM_TYPE" || form.Fields[0].Value() != "jabber:iq:register" {
		t.Fatalf("unexpected hidden field: %+v", form.Fields[0])
	}
	if !form.Fields[1].Required || form.Fields[1].Label != "Username" {
		t.Fatalf("unexpected username field: %+v", form.Fields[1])
	}
	plan := form.Fields[3]
	if plan.Desc != "Storage plan" || len(plan.Options) != 2 || plan.Options[1].Value != "pro" {
		t.Fatalf("unexpected list field: %+v", plan)
	}
	if form.Fields[4].Var != "" || form.Fields[4].Type != FieldFixed {
		t.Fatalf("fixed field should be kept without var: %+v", form.Fields[4])
	}
}

func TestParseRejectsNonForm(t *testing.T) {
	testlog.Start(t)
	if _, err := Parse(stanza.NewElement(stanza.NSRegister, "query")); !errors.Is(err, ErrNotDataForm) {
		t.Fatalf("expected ErrNotDataForm, got %v", err)
	}
}

func TestEncodeValues(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		typ  string
		raw  string
		want []string
	}{
		{FieldTextSingle, "alice", []string{"alice"}},
		{FieldTextSingle, "", []string{""}},
		{FieldBoolean, "on", []string{"1"}},
		{FieldBoolean, "false", []string{"0"}},
		{FieldTextMulti, "line one\r\nline two", []string{"line one", "line two"}},
		{FieldJIDMulti, "a@example.org\n\n b@example.org ", []string{"a@example.org", "b@example.org"}},
		{FieldListMulti, "", nil},
	}
	for _, tc := range cases {
		got := EncodeValues(tc.typ, tc.raw)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("EncodeValues(%q, %q)=%#v want %#v", tc.typ, tc.raw, got, tc.want)
		}
	}
}

func TestSubmitEncoding(t *testing.T) {
	testlog.Start(t)
	x, err := Submit([]SubmitField{
		{Var: "FORM_TYPE", Type: FieldHidden, Value: "jabber:iq:register"},
		{Var: "username", Value: "alice"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := `<x xmlns="jabber:x:data" type="submit">` +
		`<field var="FORM_TYPE" type="hidden"><value>jabber:iq:register</value></field>` +
		`<field var="username" type="text-single"><value>alice</value></field></x>`
	if got := x.String(); got != want {
		t.Fatalf("unexpected submit\n got=%s\nwant=%s", got, want)
	}

	if _, err := Submit([]SubmitField{{Var: " "}}); err == nil {
		t.Fatalf("expected error for missing var")
	}
}
