package webex

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Namespace URIs the vendor declares on its responses, mapped back to the
// short prefixes the rest of the code keys fields by.
var nsPrefix = map[string]string{
	"http://www.webex.com/schemas/2002/06/service":                 "serv",
	"http://www.webex.com/schemas/2002/06/service/meeting":         "meet",
	"http://www.webex.com/schemas/2002/06/service/trainingsession": "train",
	"http://www.webex.com/schemas/2002/06/service/ep":              "ep",
	"http://www.webex.com/schemas/2002/06/service/user":            "use",
	"http://www.webex.com/schemas/2002/06/service/event":           "event",
}

// Node is one element of a parsed vendor response. Names carry the vendor's
// namespace prefix ("meet:meetingkey"); unprefixed elements keep their bare
// local name.
type Node struct {
	Name     string
	Text     string
	Children []*Node
}

// Fields is the flat view of a response subtree. A key that occurs more than
// once keeps every value in document order. A missing key means "no change",
// never "clear the field".
type Fields map[string][]string

// Get returns the first value for key and whether it was present.
func (f Fields) Get(key string) (string, bool) {
	vs, ok := f[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// ParseMessage decodes a vendor response document into a node tree.
func ParseMessage(raw []byte) (*Node, error) {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	root, err := parseElement(dec)
	if err != nil {
		return nil, fmt.Errorf("parse vendor response: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("parse vendor response: empty document")
	}
	return root, nil
}

func parseElement(dec *xml.Decoder) (*Node, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return parseInto(dec, t)
		case xml.EndElement:
			return nil, nil
		}
	}
}

func parseInto(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	n := &Node{Name: qualifiedName(start.Name)}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseInto(dec, t)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			n.Text = strings.TrimSpace(text.String())
			return n, nil
		}
	}
}

func qualifiedName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	if p, ok := nsPrefix[name.Space]; ok {
		return p + ":" + name.Local
	}
	// Undeclared prefixes come through verbatim in Space.
	if !strings.Contains(name.Space, "/") {
		return name.Space + ":" + name.Local
	}
	return name.Local
}

// First finds the first node named name in a depth-first walk, or nil.
func (n *Node) First(name string) *Node {
	if n == nil {
		return nil
	}
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.First(name); found != nil {
			return found
		}
	}
	return nil
}

// All collects every node named name, depth-first.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	if n.Name == name {
		out = append(out, n)
	}
	for _, c := range n.Children {
		out = append(out, c.All(name)...)
	}
	return out
}

// Text of the first node named name, with presence.
func (n *Node) TextOf(name string) (string, bool) {
	found := n.First(name)
	if found == nil {
		return "", false
	}
	return found.Text, true
}

// Fields flattens every leaf element under n into a flat key set.
func (n *Node) Fields() Fields {
	f := make(Fields)
	n.collect(f)
	return f
}

func (n *Node) collect(f Fields) {
	if n == nil {
		return
	}
	if len(n.Children) == 0 {
		if n.Text != "" {
			f[n.Name] = append(f[n.Name], n.Text)
		}
		return
	}
	for _, c := range n.Children {
		c.collect(f)
	}
}
