package flow

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLocator_UnmarshalYAML(t *testing.T) {
	var list []Locator
	src := `
- "Upload"
- css: "#file"
- xpath: "//div[@id='x']"
- text: Next
  exact: true
`
	if err := yaml.Unmarshal([]byte(src), &list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []LocatorKind{LocatorText, LocatorAttribute, LocatorPath, LocatorText}
	for i, k := range want {
		if list[i].Kind() != k {
			t.Errorf("list[%d].Kind() = %s, want %s", i, list[i].Kind(), k)
		}
	}
	if list[2].Path != "//div[@id='x']" {
		t.Errorf("xpath alias not applied: %+v", list[2])
	}
	if !list[3].Exact {
		t.Error("exact not decoded")
	}
}

func TestLocator_Describe(t *testing.T) {
	tests := []struct {
		loc  Locator
		want string
	}{
		{Locator{CSS: "#a"}, `css="#a"`},
		{Locator{Path: "//a"}, `path="//a"`},
		{Locator{Text: "Go"}, `text="Go"`},
		{Locator{}, ""},
	}
	for _, tt := range tests {
		if got := tt.loc.DescribeQuoted(); got != tt.want {
			t.Errorf("DescribeQuoted() = %q, want %q", got, tt.want)
		}
	}
	if got := (Locator{Text: "Go", Tag: "button"}).Describe(); got != "button:Go" {
		t.Errorf("Describe() = %q", got)
	}
	if got := DescribeAll([]Locator{{CSS: "#a"}, {Text: "b"}}); got != `[css="#a", text="b"]` {
		t.Errorf("DescribeAll() = %q", got)
	}
}

func TestTarget_Candidates(t *testing.T) {
	tg := Target{Primary: Locator{CSS: "#a"}, Locators: []Locator{{}, {Text: "b"}}}
	c := tg.Candidates()
	if len(c) != 2 || c[0].CSS != "#a" || c[1].Text != "b" {
		t.Errorf("Candidates() = %+v", c)
	}
}
