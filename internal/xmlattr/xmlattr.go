// Package xmlattr looks up element text in a parsed XML document by a
// slash-delimited tag path. Absent elements are the common case and are
// reported as a missing value, never as an error.
package xmlattr

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clbanning/mxj"
)

// NotAvailable is the canonical "unknown" marker rendered wherever a
// looked-up value is absent.
const NotAvailable = "N/A"

// textKey is where mxj stores character data of an element that also has
// attributes.
const textKey = "#text"

// Node is one element of a parsed document. The zero value has no children.
type Node struct {
	m mxj.Map
}

// Document is a parsed XML tree. Paths given to its lookups are relative to
// the root element, whatever its tag name.
type Document struct {
	Node
	Root string
}

// Parse reads an XML document. Malformed input is returned as an error,
// including anything but whitespace, comments or processing instructions
// after the root element.
func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := wellFormed(data); err != nil {
		return nil, err
	}
	mv, err := mxj.NewMapXml(data)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	for root, v := range mv {
		doc.Root = root
		if m, ok := v.(map[string]interface{}); ok {
			doc.m = m
		}
	}
	return doc, nil
}

// wellFormed tokenizes the whole of data. mxj stops after the first element,
// so trailing junk or a second root would otherwise go unnoticed.
func wellFormed(data []byte) error {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	depth, roots := 0, 0
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return fmt.Errorf("junk after document element: <%s>", t.Name.Local)
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return errors.New("junk after document element: text")
			}
		}
	}
	if roots == 0 {
		return errors.New("no document element")
	}
	return nil
}

// ParseFile parses the XML file at path. The file is closed before returning.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Lookup returns the text of the first element matching path, e.g.
// "creator/program", with surrounding whitespace trimmed. ok is false when
// any segment is missing or the element has no text, which includes text
// that is whitespace only.
func (n Node) Lookup(path string) (value string, ok bool) {
	vals := n.values(path)
	if len(vals) == 0 {
		return "", false
	}
	return text(vals[0])
}

// Text is Lookup with NotAvailable substituted for absent values.
func (n Node) Text(path string) string {
	if v, ok := n.Lookup(path); ok {
		return v
	}
	return NotAvailable
}

// Children returns every element matching path in document order.
// Elements without child elements are skipped.
func (n Node) Children(path string) []Node {
	var out []Node
	for _, v := range n.values(path) {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, Node{m: m})
		}
	}
	return out
}

func (n Node) values(path string) []interface{} {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" || n.m == nil {
		return nil
	}
	vals, err := n.m.ValuesForPath(strings.ReplaceAll(path, "/", "."))
	if err != nil {
		return nil
	}
	return vals
}

func text(v interface{}) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case map[string]interface{}:
		raw, ok := t[textKey].(string)
		if !ok {
			return "", false
		}
		s = raw
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}
