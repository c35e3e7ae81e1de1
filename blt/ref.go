// Package blt implements the BL/T text protocol: a newline-delimited TCP
// surface through which external clients read, write, watch, and dispose
// mesh resources. Every gadget, fold, and routing rule is addressable by a
// bl:/// URI; a /delete suffix on a reference disposes the resource.
package blt

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/c360/gadgetmesh/errors"
)

// Ref kinds.
const (
	RefCell = "cell"
	RefFold = "fold"
	RefRule = "rule"
)

const refScheme = "bl:///"

// Ref is a parsed bl:/// resource reference.
type Ref struct {
	Kind    string
	Name    string   // cell or rule name, or fold operator
	Sources []string // fold source cell names
	Delete  bool
}

// ParseRef parses a bl:/// URI. Bare names are shorthand for cell refs.
func ParseRef(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, errors.WrapInvalid(
			fmt.Errorf("empty reference"),
			"BLT", "ParseRef", "reference validation")
	}
	if !strings.HasPrefix(s, refScheme) {
		if strings.Contains(s, "://") {
			return Ref{}, errors.WrapInvalid(
				fmt.Errorf("unsupported reference scheme in %q", raw),
				"BLT", "ParseRef", "reference validation")
		}
		s = refScheme + RefCell + "/" + s
	}
	s = strings.TrimPrefix(s, refScheme)

	path := s
	query := ""
	if i := strings.IndexByte(s, '?'); i >= 0 {
		path, query = s[:i], s[i+1:]
	}

	var ref Ref
	if strings.HasSuffix(path, "/delete") {
		ref.Delete = true
		path = strings.TrimSuffix(path, "/delete")
	}

	kind, name, ok := strings.Cut(path, "/")
	if !ok || name == "" {
		return Ref{}, errors.WrapInvalid(
			fmt.Errorf("reference %q needs a kind and a name", raw),
			"BLT", "ParseRef", "reference validation")
	}
	ref.Kind = kind
	ref.Name = name

	switch kind {
	case RefCell, RefRule:
	case RefFold:
		values, err := url.ParseQuery(query)
		if err != nil {
			return Ref{}, errors.WrapInvalid(err, "BLT", "ParseRef", "query parse")
		}
		raw := values.Get("sources")
		if raw == "" {
			return Ref{}, errors.WrapInvalid(
				fmt.Errorf("fold reference %q needs a sources parameter", name),
				"BLT", "ParseRef", "reference validation")
		}
		for _, src := range strings.Split(raw, ",") {
			sub, err := ParseRef(src)
			if err != nil {
				return Ref{}, err
			}
			if sub.Kind != RefCell {
				return Ref{}, errors.WrapInvalid(
					fmt.Errorf("fold sources must be cells, got %q", src),
					"BLT", "ParseRef", "reference validation")
			}
			ref.Sources = append(ref.Sources, sub.Name)
		}
	default:
		return Ref{}, errors.WrapInvalid(
			fmt.Errorf("unknown reference kind %q", kind),
			"BLT", "ParseRef", "reference validation")
	}
	return ref, nil
}

// String renders the canonical URI form.
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(refScheme)
	b.WriteString(r.Kind)
	b.WriteByte('/')
	b.WriteString(r.Name)
	if r.Delete {
		b.WriteString("/delete")
	}
	if len(r.Sources) > 0 {
		b.WriteString("?sources=")
		for i, src := range r.Sources {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(refScheme + RefCell + "/" + src)
		}
	}
	return b.String()
}
