// Package flow handles parsing and representation of platform scene files.
package flow

// Business scenes, run by the orchestrator in this order.
const (
	SceneNavigate    = "navigate"
	SceneUpload      = "upload"
	SceneFillDetails = "fillDetails"
	SceneSubmit      = "submit"
)

// BusinessScenes is the fixed per-item scene order.
var BusinessScenes = []string{SceneNavigate, SceneUpload, SceneFillDetails, SceneSubmit}

// Scene is a named ordered list of steps.
type Scene struct {
	Name  string
	Steps []Step
}

// HasPublishStep reports whether the scene contains a step flagged publish.
func (s *Scene) HasPublishStep() bool {
	for _, st := range s.Steps {
		if st.Base().Publish {
			return true
		}
	}
	return false
}

// Platform is a parsed platform file: header config plus its scenes.
type Platform struct {
	SourcePath string
	Config     Config
	Scenes     map[string]*Scene
	Order      []string // Scene names in declaration order
}

// Scene returns the named scene or nil.
func (p *Platform) Scene(name string) *Scene {
	if p == nil {
		return nil
	}
	return p.Scenes[name]
}

// Config represents platform-level configuration.
type Config struct {
	Name            string            `yaml:"name"`
	Display         string            `yaml:"display"`
	URL             string            `yaml:"url"`
	LocateTimeoutMs int               `yaml:"locateTimeout"` // Overrides the agent default for this platform
	Limits          Limits            `yaml:"limits"`
	Env             map[string]string `yaml:"env"`
}

// Limits constrain item metadata before it is typed.
type Limits struct {
	TitleMax       int  `yaml:"titleMax"`
	DescriptionMax int  `yaml:"descriptionMax"`
	TagsMax        int  `yaml:"tagsMax"`
	TagCharsMax    int  `yaml:"tagCharsMax"`
	KeepFirstTags  int  `yaml:"keepFirstTags"` // Tags kept in place when the rest are shuffled
	ShuffleTags    bool `yaml:"shuffleTags"`
	CaptionMax     int  `yaml:"captionMax"` // Description plus hashtags
}
