package flow

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a platform scene file.
func ParseFile(path string) (*Platform, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided scene file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses platform YAML content. The first document holds the
// platform config, the second maps scene names to step lists.
func Parse(data []byte, sourcePath string) (*Platform, error) {
	parts := splitYAMLDocuments(string(data))

	p := &Platform{
		SourcePath: sourcePath,
		Scenes:     make(map[string]*Scene),
	}

	switch len(parts) {
	case 0:
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty platform file"}
	case 1:
		if err := parseScenes(parts[0], p); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal([]byte(parts[0]), &p.Config); err != nil {
			return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid config: %v", err)}
		}
		if err := parseScenes(parts[1], p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// ParseSteps parses a bare step list into a scene.
func ParseSteps(data []byte, name string) (*Scene, error) {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal(data, &rawSteps); err != nil {
		return nil, &ParseError{Path: name, Message: fmt.Sprintf("invalid steps: %v", err)}
	}
	scene := &Scene{Name: name}
	for i := range rawSteps {
		step, err := parseStep(&rawSteps[i], name)
		if err != nil {
			return nil, err
		}
		scene.Steps = append(scene.Steps, step)
	}
	return scene, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inBlock := false
	blockIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inBlock {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inBlock = true
				if i+1 < len(lines) {
					next := lines[i+1]
					blockIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < blockIndent {
				inBlock = false
			}
		}

		if !inBlock && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}

	return parts
}

func parseScenes(content string, p *Platform) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return &ParseError{Path: p.SourcePath, Message: fmt.Sprintf("invalid scenes: %v", err)}
	}
	if len(doc.Content) == 0 {
		return &ParseError{Path: p.SourcePath, Message: "no scenes defined"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return &ParseError{Path: p.SourcePath, Line: root.Line, Message: "scenes must be a mapping of name to steps"}
	}

	for i := 0; i < len(root.Content)-1; i += 2 {
		nameNode, stepsNode := root.Content[i], root.Content[i+1]
		name := nameNode.Value
		if _, dup := p.Scenes[name]; dup {
			return &ParseError{Path: p.SourcePath, Line: nameNode.Line, Message: fmt.Sprintf("duplicate scene: %s", name)}
		}
		if stepsNode.Kind != yaml.SequenceNode {
			return &ParseError{Path: p.SourcePath, Line: stepsNode.Line, Message: fmt.Sprintf("scene %s must be a list of steps", name)}
		}

		scene := &Scene{Name: name}
		for _, node := range stepsNode.Content {
			step, err := parseStep(node, p.SourcePath)
			if err != nil {
				return err
			}
			scene.Steps = append(scene.Steps, step)
		}
		p.Scenes[name] = scene
		p.Order = append(p.Order, name)
	}
	return nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping",
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "unknown step type",
		}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepClick, StepTypeText, StepWaitForPresence, StepInjectMedia,
		StepCustom, StepNavigate, StepWait:
		return true
	}
	return false
}

func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	scalar := valueNode.Kind == yaml.ScalarNode

	var step Step
	switch stepType {
	case StepClick:
		var s ClickStep
		if scalar {
			s.Target.Primary.Text = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		step = &s

	case StepTypeText:
		var s TypeStep
		if scalar {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "type requires locators and value"}
		}
		if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		step = &s

	case StepWaitForPresence:
		var s WaitForPresenceStep
		if scalar {
			s.Target.Primary.Text = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		step = &s

	case StepInjectMedia:
		var s InjectMediaStep
		if scalar {
			s.Target.Primary.CSS = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if len(s.Candidates()) == 0 {
			s.Target.Primary.CSS = "input[type=file]"
		}
		step = &s

	case StepCustom:
		var s CustomStep
		if scalar {
			s.Action = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		if s.Action == "" {
			return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "custom step requires action"}
		}
		step = &s

	case StepNavigate:
		var s NavigateStep
		if scalar {
			s.URL = valueNode.Value
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		step = &s

	case StepWait:
		var s WaitStep
		if scalar {
			ms, err := strconv.Atoi(valueNode.Value)
			if err != nil {
				return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("wait expects milliseconds: %q", valueNode.Value)}
			}
			s.DurationMs = ms
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
		step = &s

	default:
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("unknown step type: %s", stepType)}
	}

	step.Base().StepType = stepType
	if t, ok := step.(Targeted); ok && stepType != StepCustom && len(t.Candidates()) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("%s requires at least one locator", stepType)}
	}
	return step, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{Path: path, Line: line, Message: err.Error()}
}
