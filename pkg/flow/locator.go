package flow

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// LocatorKind identifies how a Locator matches.
type LocatorKind string

const (
	LocatorNone      LocatorKind = ""
	LocatorAttribute LocatorKind = "attribute" // CSS / structural attribute match
	LocatorPath      LocatorKind = "path"      // Hierarchical path (XPath)
	LocatorText      LocatorKind = "text"      // Visible text content
)

// Locator is a declarative rule for finding one element.
// Pure data structure - the surface decides how to evaluate it.
type Locator struct {
	CSS   string `yaml:"css"`   // Structural attribute match, e.g. input[type=file]
	Path  string `yaml:"path"`  // Hierarchical path, e.g. //ytcp-button[@id='next']
	Text  string `yaml:"text"`  // Text content match
	Tag   string `yaml:"tag"`   // Restricts text matches to an element tag
	Exact bool   `yaml:"exact"` // Text must equal rather than contain
}

// locatorRaw avoids recursion in UnmarshalYAML.
type locatorRaw struct {
	CSS   string `yaml:"css"`
	Path  string `yaml:"path"`
	XPath string `yaml:"xpath"` // Alias for path
	Text  string `yaml:"text"`
	Tag   string `yaml:"tag"`
	Exact bool   `yaml:"exact"`
}

// UnmarshalYAML allows Locator to be unmarshaled from string or struct.
// A bare string is a text match.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		l.Text = node.Value
		return nil
	}

	var raw locatorRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	l.CSS = raw.CSS
	l.Path = raw.Path
	if l.Path == "" {
		l.Path = raw.XPath
	}
	l.Text = raw.Text
	l.Tag = raw.Tag
	l.Exact = raw.Exact
	return nil
}

// Kind returns the match strategy. CSS wins over path, path over text.
func (l Locator) Kind() LocatorKind {
	switch {
	case l.CSS != "":
		return LocatorAttribute
	case l.Path != "":
		return LocatorPath
	case l.Text != "":
		return LocatorText
	default:
		return LocatorNone
	}
}

// IsEmpty returns true if no match property is set.
func (l Locator) IsEmpty() bool {
	return l.Kind() == LocatorNone
}

// Describe returns a human-readable description.
func (l Locator) Describe() string {
	switch l.Kind() {
	case LocatorAttribute:
		return "css:" + l.CSS
	case LocatorPath:
		return "path:" + l.Path
	case LocatorText:
		if l.Tag != "" {
			return l.Tag + ":" + l.Text
		}
		return l.Text
	default:
		return ""
	}
}

// DescribeQuoted returns a quoted description like text="value" or css="value".
func (l Locator) DescribeQuoted() string {
	switch l.Kind() {
	case LocatorAttribute:
		return "css=\"" + l.CSS + "\""
	case LocatorPath:
		return "path=\"" + l.Path + "\""
	case LocatorText:
		return "text=\"" + l.Text + "\""
	default:
		return ""
	}
}

// DescribeAll joins candidate descriptions in preference order.
func DescribeAll(candidates []Locator) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		parts = append(parts, c.DescribeQuoted())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Target holds the locator candidates of a step. A step may declare a
// single inline locator, a "locators" list, or both (inline first).
type Target struct {
	Primary  Locator   `yaml:",inline"`
	Locators []Locator `yaml:"locators"`
}

// Candidates returns the ordered fallback chain.
func (t *Target) Candidates() []Locator {
	out := make([]Locator, 0, len(t.Locators)+1)
	if !t.Primary.IsEmpty() {
		out = append(out, t.Primary)
	}
	for _, l := range t.Locators {
		if !l.IsEmpty() {
			out = append(out, l)
		}
	}
	return out
}
