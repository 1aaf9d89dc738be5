package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/publish-agent/pkg/platform"
)

const validPlatform = `
name: demo
url: https://example.test/upload
---
navigate:
  - navigate: https://example.test/upload
upload:
  - injectMedia: "input[type=file]"
fillDetails:
  - type: {css: "#title", value: "${item.title}"}
  - custom: {action: fillTags, css: "#tags"}
submit:
  - click: {text: Publish, publish: true}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newValidator() *Validator {
	return New(platform.ActionNames())
}

func TestValidate_SingleFile(t *testing.T) {
	file := writeFile(t, t.TempDir(), "demo.yaml", validPlatform)

	result := newValidator().Validate(file)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Files) != 1 {
		t.Errorf("expected 1 file, got %d", len(result.Files))
	}
	if p := result.Platforms[file]; p == nil || p.Config.Name != "demo" {
		t.Errorf("platform not recorded: %+v", p)
	}
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", validPlatform)
	writeFile(t, dir, "b.yml", validPlatform)
	writeFile(t, dir, "notes.txt", "ignored")

	result := newValidator().Validate(dir)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Files) != 2 {
		t.Errorf("expected 2 files, got %d", len(result.Files))
	}
}

func TestValidate_Builtins(t *testing.T) {
	v := newValidator()
	for _, name := range platform.Names() {
		t.Run(name, func(t *testing.T) {
			p, err := platform.Load(name, "")
			if err != nil {
				t.Fatal(err)
			}
			if errs := v.ValidatePlatform(p); len(errs) > 0 {
				t.Errorf("builtin %s invalid: %v", name, errs)
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing scene",
			content: strings.Replace(validPlatform, "upload:\n  - injectMedia: \"input[type=file]\"\n", "", 1),
			want:    `missing scene "upload"`,
		},
		{
			name:    "no publish step",
			content: strings.Replace(validPlatform, ", publish: true", "", 1),
			want:    "no step is marked publish",
		},
		{
			name:    "unknown action",
			content: strings.Replace(validPlatform, "fillTags", "fillEverything", 1),
			want:    `unknown custom action "fillEverything"`,
		},
		{
			name:    "publish outside submit",
			content: strings.Replace(validPlatform, `{action: fillTags, css: "#tags"}`, `{action: fillTags, css: "#tags", publish: true}`, 1),
			want:    "publish steps belong in submit",
		},
		{
			name:    "unterminated template",
			content: strings.Replace(validPlatform, "${item.title}", "${item.title", 1),
			want:    "unterminated expression",
		},
		{
			name:    "css and path",
			content: strings.Replace(validPlatform, `{css: "#title", value`, `{css: "#title", path: "//input", value`, 1),
			want:    "both css and path",
		},
		{
			name:    "zero wait",
			content: validPlatform + "  - wait: 0\n",
			want:    "wait duration must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeFile(t, t.TempDir(), "p.yaml", tt.content)
			result := newValidator().Validate(file)
			if result.IsValid() {
				t.Fatal("expected errors")
			}
			var found bool
			for _, err := range result.Errors {
				if strings.Contains(err.Error(), tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", result.Errors, tt.want)
			}
		})
	}
}

func TestValidate_ParseError(t *testing.T) {
	file := writeFile(t, t.TempDir(), "bad.yaml", "navigate:\n  - fly: away\n")

	result := newValidator().Validate(file)

	if result.IsValid() || len(result.Files) != 0 {
		t.Fatalf("expected parse failure, got %+v", result)
	}
	if !strings.Contains(result.Errors[0].Error(), "parse error") {
		t.Errorf("error = %v", result.Errors[0])
	}
}

func TestValidate_MissingPath(t *testing.T) {
	result := newValidator().Validate(filepath.Join(t.TempDir(), "nope"))
	if result.IsValid() {
		t.Fatal("expected error")
	}
	if !strings.Contains(result.Errors[0].Error(), "cannot access") {
		t.Errorf("error = %v", result.Errors[0])
	}
}

func TestValidationError_Format(t *testing.T) {
	e := &ValidationError{File: "f.yaml", Scene: "submit", Step: 2, Message: "bad"}
	if e.Error() != "f.yaml: submit step 2: bad" {
		t.Errorf("got %q", e.Error())
	}
}
