// Package tags builds html tag descriptors for emitted assets and splices
// them into rendered documents.
package tags

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attribute is a single tag attribute. Descriptors keep attributes in
// insertion order.
type Attribute struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Descriptor is one element to inject, prior to serialization.
type Descriptor struct {
	TagName    string      `json:"tagName" yaml:"tagName"`
	VoidTag    bool        `json:"voidTag" yaml:"voidTag"`
	Attributes []Attribute `json:"attributes" yaml:"attributes"`
}

// Attr returns the value of key.
func (d Descriptor) Attr(key string) (string, bool) {
	for _, a := range d.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces the value of key, appending it when absent.
func (d *Descriptor) SetAttr(key, value string) {
	for i, a := range d.Attributes {
		if a.Key == key {
			d.Attributes[i].Value = value
			return
		}
	}
	d.Attributes = append(d.Attributes, Attribute{Key: key, Value: value})
}

// String serializes the descriptor as html.
func (d Descriptor) String() string {
	node := &html.Node{
		Type:     html.ElementNode,
		Data:     d.TagName,
		DataAtom: atom.Lookup([]byte(d.TagName)),
	}
	for _, a := range d.Attributes {
		node.Attr = append(node.Attr, html.Attribute{Key: a.Key, Val: a.Value})
	}

	var b strings.Builder
	if err := html.Render(&b, node); err != nil {
		return fmt.Sprintf("<!-- %s: %v -->", d.TagName, err)
	}
	out := b.String()
	if d.VoidTag {
		out = strings.TrimSuffix(out, "</"+d.TagName+">")
	}
	return out
}

// TemplateValue exposes the descriptor to template expressions.
func (d Descriptor) TemplateValue() interface{} {
	attrs := make(map[string]interface{}, len(d.Attributes))
	for _, a := range d.Attributes {
		attrs[a.Key] = a.Value
	}
	return map[string]interface{}{
		"tagName":    d.TagName,
		"voidTag":    d.VoidTag,
		"attributes": attrs,
		"html":       d.String(),
	}
}

// ScriptTags returns one non-void script descriptor per path.
func ScriptTags(paths []string) []Descriptor {
	out := make([]Descriptor, 0, len(paths))
	for _, p := range paths {
		out = append(out, Descriptor{
			TagName:    "script",
			Attributes: []Attribute{{Key: "src", Value: p}},
		})
	}
	return out
}

// StyleTags returns one void stylesheet descriptor per path.
func StyleTags(paths []string) []Descriptor {
	out := make([]Descriptor, 0, len(paths))
	for _, p := range paths {
		out = append(out, Descriptor{
			TagName: "link",
			VoidTag: true,
			Attributes: []Attribute{
				{Key: "rel", Value: "stylesheet"},
				{Key: "href", Value: p},
			},
		})
	}
	return out
}

// Target is where script tags are injected.
type Target string

const (
	TargetHead Target = "head"
	TargetBody Target = "body"
)

// ParseTarget validates an inject option value. The empty string selects
// the body.
func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(strings.TrimSpace(s))) {
	case "", TargetBody:
		return TargetBody, nil
	case TargetHead:
		return TargetHead, nil
	default:
		return "", fmt.Errorf("inject must be %q or %q, got %q", TargetHead, TargetBody, s)
	}
}

// Groups holds the descriptors destined for each document section.
type Groups struct {
	HeadTags []Descriptor `json:"headTags" yaml:"headTags"`
	BodyTags []Descriptor `json:"bodyTags" yaml:"bodyTags"`
}

// TemplateValue exposes the groups to template expressions.
func (g Groups) TemplateValue() interface{} {
	return map[string]interface{}{
		"headTags": descriptorValues(g.HeadTags),
		"bodyTags": descriptorValues(g.BodyTags),
	}
}

func descriptorValues(ds []Descriptor) []interface{} {
	out := make([]interface{}, len(ds))
	for i, d := range ds {
		out[i] = d.TemplateValue()
	}
	return out
}

// GroupByTarget places styles in the head and scripts in the body unless
// target is the head.
func GroupByTarget(scripts, styles []Descriptor, target Target) Groups {
	g := Groups{
		HeadTags: append([]Descriptor{}, styles...),
		BodyTags: []Descriptor{},
	}
	if target == TargetHead {
		g.HeadTags = append(g.HeadTags, scripts...)
	} else {
		g.BodyTags = append(g.BodyTags, scripts...)
	}
	return g
}

// Serialize renders descriptors back to back.
func Serialize(ds []Descriptor) string {
	var b strings.Builder
	for _, d := range ds {
		b.WriteString(d.String())
	}
	return b.String()
}
