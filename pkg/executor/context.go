package executor

import (
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/jsengine"
)

// SceneContext carries one item through its scenes.
type SceneContext struct {
	Item       core.WorkItem
	Media      *core.MediaFile
	Platform   flow.Config
	AutoSubmit bool
	Checkpoint Checkpoint
	Gate       Gate
	// Posted is filled by actions that read the published post's link.
	Posted Posted

	script *jsengine.Engine
}

// Posted identifies the published post on the platform.
type Posted struct {
	ID  string
	URL string
}

// Record keeps the non-empty fields of p.
func (p *Posted) Record(id, url string) {
	if id != "" {
		p.ID = id
	}
	if url != "" {
		p.URL = url
	}
}

// NewSceneContext prepares the template scope for item. Call Close when the
// item is done.
func NewSceneContext(item core.WorkItem, platform flow.Config) *SceneContext {
	sc := &SceneContext{
		Item:     item,
		Platform: platform,
		script:   jsengine.New(),
	}
	sc.script.SetVariable("item", ItemVars(item))
	sc.script.SetVariable("platform", map[string]interface{}{
		"name": platform.Name,
		"url":  platform.URL,
	})
	env := make(map[string]interface{}, len(platform.Env))
	for k, v := range platform.Env {
		env[k] = v
	}
	sc.script.SetVariable("env", env)
	return sc
}

// Expand evaluates ${...} expressions against the item scope.
func (sc *SceneContext) Expand(text string) (string, error) {
	if sc.script == nil {
		return text, nil
	}
	return sc.script.ExpandVariables(text)
}

// Close releases the script runtime.
func (sc *SceneContext) Close() {
	if sc.script != nil {
		sc.script.Close()
	}
}

// ItemVars exposes a work item to templates as item.title, item.tags, ...
func ItemVars(item core.WorkItem) map[string]interface{} {
	tags := make([]interface{}, len(item.Tags))
	for i, t := range item.Tags {
		tags[i] = t
	}

	promos := make([]interface{}, 0, len(item.Options.CrossPromotion))
	for _, p := range item.Options.CrossPromotion {
		promos = append(promos, map[string]interface{}{"url": p.URL, "label": p.Label})
	}

	scheduled := ""
	if item.Options.ScheduledAt != nil {
		scheduled = item.Options.ScheduledAt.Format(time.RFC3339)
	}

	extra := make(map[string]interface{}, len(item.Options.Extra))
	for k, v := range item.Options.Extra {
		extra[k] = v
	}

	return map[string]interface{}{
		"code":           item.Code,
		"title":          item.Title,
		"description":    item.Description,
		"tags":           tags,
		"hashtags":       item.HashtagLine(),
		"visibility":     item.Options.Visibility,
		"scheduledAt":    scheduled,
		"crossPromotion": promos,
		"extra":          extra,
	}
}
