// Package validator checks platform scene files before a run.
// It parses every file upfront and collects all problems instead of
// stopping at the first one.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Scene   string
	Step    int // 1-based, 0 when the error is not about a step
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Scene != "" && e.Step > 0:
		return fmt.Sprintf("%s: %s step %d: %s", e.File, e.Scene, e.Step, e.Message)
	case e.Scene != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Scene, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
}

// Result contains the validation result.
type Result struct {
	// Files is the list of platform files that parsed.
	Files []string
	// Platforms holds the parsed platforms keyed by file.
	Platforms map[string]*flow.Platform
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates platform files against a set of known custom
// actions.
type Validator struct {
	actions map[string]bool
}

// New creates a Validator. actions lists the custom action names a
// scene may reference.
func New(actions []string) *Validator {
	known := make(map[string]bool, len(actions))
	for _, a := range actions {
		known[a] = true
	}
	return &Validator{actions: known}
}

// Validate validates a file or a directory of platform files.
func (v *Validator) Validate(path string) *Result {
	result := &Result{Platforms: make(map[string]*flow.Platform)}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectPlatformFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		p, err := flow.ParseFile(file)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    file,
				Message: fmt.Sprintf("parse error: %v", err),
			})
			continue
		}
		result.Files = append(result.Files, file)
		result.Platforms[file] = p
		result.Errors = append(result.Errors, v.ValidatePlatform(p)...)
	}
	return result
}

// ValidatePlatform checks a parsed platform.
func (v *Validator) ValidatePlatform(p *flow.Platform) []error {
	file := p.SourcePath
	var errs []error
	add := func(scene string, step int, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{File: file, Scene: scene, Step: step, Message: fmt.Sprintf(format, args...)})
	}

	for _, name := range flow.BusinessScenes {
		s := p.Scene(name)
		if s == nil {
			add("", 0, "missing scene %q", name)
			continue
		}
		if len(s.Steps) == 0 {
			add(name, 0, "scene has no steps")
		}
	}
	if s := p.Scene(flow.SceneSubmit); s != nil && !s.HasPublishStep() {
		add(flow.SceneSubmit, 0, "no step is marked publish")
	}

	for _, name := range sceneNames(p) {
		s := p.Scenes[name]
		for i, step := range s.Steps {
			n := i + 1
			b := step.Base()
			if b.Publish && name != flow.SceneSubmit {
				add(name, n, "publish steps belong in %s", flow.SceneSubmit)
			}
			if b.TimeoutMs < 0 || b.SettleMs < 0 {
				add(name, n, "timeout and settle must not be negative")
			}
			switch st := step.(type) {
			case *flow.CustomStep:
				if !v.actions[st.Action] {
					add(name, n, "unknown custom action %q", st.Action)
				}
			case *flow.NavigateStep:
				if st.URL == "" && p.Config.URL == "" {
					add(name, n, "navigate has no url and the platform declares none")
				}
			case *flow.WaitStep:
				if st.DurationMs <= 0 {
					add(name, n, "wait duration must be positive")
				}
			case *flow.TypeStep:
				if err := checkTemplate(st.Value); err != nil {
					add(name, n, "%v", err)
				}
			}
			if t, ok := step.(flow.Targeted); ok {
				for _, loc := range t.Candidates() {
					if loc.CSS != "" && loc.Path != "" {
						add(name, n, "locator sets both css and path")
					}
				}
			}
		}
	}
	return errs
}

// sceneNames returns declaration order, falling back to sorted keys.
func sceneNames(p *flow.Platform) []string {
	if len(p.Order) == len(p.Scenes) {
		return p.Order
	}
	names := make([]string, 0, len(p.Scenes))
	for n := range p.Scenes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// checkTemplate rejects unterminated ${...} expressions.
func checkTemplate(s string) error {
	rest := s
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			return nil
		}
		rest = rest[i+2:]
		j := strings.Index(rest, "}")
		if j < 0 {
			return fmt.Errorf("unterminated expression in %q", s)
		}
		if strings.TrimSpace(rest[:j]) == "" {
			return fmt.Errorf("empty expression in %q", s)
		}
		rest = rest[j+1:]
	}
}

// collectPlatformFiles finds all .yaml/.yml files in a directory.
func collectPlatformFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}
