package stanza

import (
	"encoding/xml"
	"strings"
)

// Element is a namespace-aware XML element tree.
//
// Children inherit their parent's namespace when encoded, so a tree
// decoded from the wire re-encodes without redundant xmlns attributes.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr
	Text     string
	Children []*Element
}

// NewElement creates an element in namespace space.
func NewElement(space, local string) *Element {
	return &Element{XMLName: xml.Name{Space: space, Local: local}}
}

// WithAttr sets attribute name to value and returns e.
func (e *Element) WithAttr(name, value string) *Element {
	e.SetAttr(name, value)
	return e
}

// WithText replaces the character data of e and returns e.
func (e *Element) WithText(text string) *Element {
	e.Text = text
	return e
}

// Append adds children to e and returns e.
func (e *Element) Append(children ...*Element) *Element {
	for _, child := range children {
		if child != nil {
			e.Children = append(e.Children, child)
		}
	}
	return e
}

// Attr returns the value of the attribute with the given local name.
func (e *Element) Attr(name string) string {
	if e == nil {
		return ""
	}
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present, even when empty.
func (e *Element) HasAttr(name string) bool {
	if e == nil {
		return false
	}
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return true
		}
	}
	return false
}

func (e *Element) SetAttr(name, value string) {
	for i, a := range e.Attrs {
		if a.Name.Local == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// Is reports whether e has the given namespace and local name.
// An empty space matches any namespace.
func (e *Element) Is(space, local string) bool {
	if e == nil || e.XMLName.Local != local {
		return false
	}
	return space == "" || e.XMLName.Space == space
}

// Child returns the first direct child matching space and local.
func (e *Element) Child(space, local string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Is(space, local) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child matching space and local.
func (e *Element) ChildrenNamed(space, local string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Is(space, local) {
			out = append(out, c)
		}
	}
	return out
}

// FirstChild returns the first child element or nil.
func (e *Element) FirstChild() *Element {
	if e == nil || len(e.Children) == 0 {
		return nil
	}
	return e.Children[0]
}

// Find returns the first descendant (depth first, excluding e) matching space and local.
func (e *Element) Find(space, local string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Is(space, local) {
			return c
		}
		if found := c.Find(space, local); found != nil {
			return found
		}
	}
	return nil
}

// ChildText returns the trimmed text of the first matching child, if any.
func (e *Element) ChildText(space, local string) (string, bool) {
	c := e.Child(space, local)
	if c == nil {
		return "", false
	}
	return strings.TrimSpace(c.Text), true
}

// Copy returns a deep copy of e.
func (e *Element) Copy() *Element {
	if e == nil {
		return nil
	}
	out := &Element{
		XMLName: e.XMLName,
		Text:    e.Text,
	}
	if len(e.Attrs) > 0 {
		out.Attrs = make([]xml.Attr, len(e.Attrs))
		copy(out.Attrs, e.Attrs)
	}
	for _, c := range e.Children {
		out.Children = append(out.Children, c.Copy())
	}
	return out
}

// UnmarshalXML implements xml.Unmarshaler.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.XMLName = start.Name
	e.Attrs = dropNamespaceDecls(start.Attr)
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &Element{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			e.Children = append(e.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			e.Text = text.String()
			return nil
		}
	}
}

// MarshalXML implements xml.Marshaler.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	if err := e.encode(enc, ""); err != nil {
		return err
	}
	return enc.Flush()
}

// String renders e as XML, mainly for logs.
func (e *Element) String() string {
	if e == nil {
		return ""
	}
	out, err := xml.Marshal(e)
	if err != nil {
		return "<!-- " + err.Error() + " -->"
	}
	return string(out)
}

func (e *Element) encode(enc *xml.Encoder, parentSpace string) error {
	name := e.XMLName
	if name.Space == parentSpace {
		name.Space = ""
	}
	start := xml.StartElement{Name: name, Attr: e.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	space := e.XMLName.Space
	if space == "" {
		space = parentSpace
	}
	for _, c := range e.Children {
		if err := c.encode(enc, space); err != nil {
			return err
		}
	}
	return enc.EncodeToken(xml.EndElement{Name: name})
}

func dropNamespaceDecls(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}
