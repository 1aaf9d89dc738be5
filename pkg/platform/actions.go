package platform

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/executor"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// Actions returns the custom actions the built-in scene tables use.
func Actions() map[string]executor.CustomAction {
	return map[string]executor.CustomAction{
		"selectVisibility": selectVisibility,
		"setSchedule":      setSchedule,
		"fillTags":         fillTags,
		"fillCaption":      fillCaption,
		"fillDescription":  fillDescription,
		"selectOption":     selectOption,
		"setMadeForKids":   setMadeForKids,
		"dismissDialog":    dismissDialog,
		"waitGone":         waitGone,
		"recordPostLink":   recordPostLink,
		"setToggle":        setToggle,
	}
}

// ActionNames lists the registered custom actions, sorted.
func ActionNames() []string {
	m := Actions()
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func requireTarget(step *flow.CustomStep, target *core.ElementInfo) error {
	if target == nil {
		return core.ErrInvalidConfig.WithMessagef("%s needs a locator", step.Action)
	}
	return nil
}

// argLocators builds candidates from args "css", "path" and "text".
func argLocators(step *flow.CustomStep) []flow.Locator {
	var out []flow.Locator
	if v := step.Args["css"]; v != "" {
		out = append(out, flow.Locator{CSS: v})
	}
	if v := step.Args["path"]; v != "" {
		out = append(out, flow.Locator{Path: v})
	}
	if v := step.Args["text"]; v != "" {
		out = append(out, flow.Locator{Text: v})
	}
	return out
}

// clickOption opens target (when given) and clicks the option labelled label.
func clickOption(ctx context.Context, tk *executor.Toolkit, target *core.ElementInfo, label string) error {
	if target != nil {
		if err := tk.Click(ctx, target); err != nil {
			return err
		}
	}
	opt, err := tk.Locate(ctx,
		flow.Locator{CSS: fmt.Sprintf("[name=%q]", label)},
		flow.Locator{Text: label, Exact: true},
		flow.Locator{Text: label},
	)
	if err != nil {
		return err
	}
	return tk.Click(ctx, opt)
}

// selectVisibility picks the option mapped from the item visibility.
// args map public/unlisted/private to option labels; "default" applies
// when the item has none.
func selectVisibility(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	v := tk.Item().Options.Visibility
	if v == "" {
		v = step.Args["default"]
	}
	if v == "" {
		return executor.Skip()
	}
	label, ok := step.Args[v]
	if !ok {
		label = v
	}
	tk.Log(core.SeverityInfo, "visibility: %s", label)
	return clickOption(ctx, tk, target, label)
}

// setSchedule types the scheduled time into target. args: layout (Go time
// layout), toggle (text of a control that enables scheduling).
func setSchedule(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	at := tk.Item().Options.ScheduledAt
	if at == nil {
		return executor.Skip()
	}
	if err := requireTarget(step, target); err != nil {
		return err
	}
	if toggle := step.Args["toggle"]; toggle != "" {
		el, err := tk.Locate(ctx, flow.Locator{Text: toggle})
		if err != nil {
			return err
		}
		if err := tk.Click(ctx, el); err != nil {
			return err
		}
	}
	layout := step.Args["layout"]
	if layout == "" {
		layout = "2006-01-02 15:04"
	}
	return tk.Type(ctx, target, at.Local().Format(layout))
}

func fillTags(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	tags := tk.Item().Tags
	if len(tags) == 0 {
		return executor.Skip()
	}
	if err := requireTarget(step, target); err != nil {
		return err
	}
	sep := step.Args["separator"]
	if sep == "" {
		sep = ","
	}
	return tk.Type(ctx, target, strings.Join(tags, sep)+sep)
}

func fillCaption(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	caption := Caption(tk.Item())
	if caption == "" {
		return executor.Skip()
	}
	if err := requireTarget(step, target); err != nil {
		return err
	}
	return tk.Type(ctx, target, caption)
}

func fillDescription(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	desc := tk.Item().Description
	if desc == "" {
		return executor.Skip()
	}
	if err := requireTarget(step, target); err != nil {
		return err
	}
	return tk.Type(ctx, target, desc)
}

// selectOption opens target and picks the option whose label is the
// expanded args "value". An empty value skips the step.
func selectOption(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	value, err := tk.Expand(step.Args["value"])
	if err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		return executor.Skip()
	}
	if err := requireTarget(step, target); err != nil {
		return err
	}
	return clickOption(ctx, tk, target, value)
}

// setMadeForKids answers the audience question from extra.madeForKids.
func setMadeForKids(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, _ *core.ElementInfo) error {
	label := step.Args["no"]
	if strings.EqualFold(tk.Item().Options.Extra["madeForKids"], "true") {
		label = step.Args["yes"]
	}
	if label == "" {
		return executor.Skip()
	}
	el, err := tk.Locate(ctx, flow.Locator{Text: label})
	if err != nil {
		return err
	}
	return tk.Click(ctx, el)
}

// setToggle sets the switch target to extra[args "key"], falling back to
// args "default". A switch without aria-checked counts as off.
func setToggle(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	want := tk.Item().Options.Extra[step.Args["key"]]
	if want == "" {
		want = step.Args["default"]
	}
	if want == "" {
		return executor.Skip()
	}
	if err := requireTarget(step, target); err != nil {
		return err
	}
	on := strings.EqualFold(want, "true")
	if strings.EqualFold(target.Attributes["aria-checked"], "true") == on {
		return nil
	}
	return tk.Click(ctx, target)
}

// dismissDialog clicks a close control if one is showing right now.
func dismissDialog(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, _ *core.ElementInfo) error {
	cands := argLocators(step)
	if len(cands) == 0 {
		return core.ErrInvalidConfig.WithMessage("dismissDialog needs css, path or text args")
	}
	el, err := tk.Find(ctx, cands...)
	if err != nil || el == nil {
		return executor.Skip()
	}
	return tk.Click(ctx, el)
}

// waitGone waits until none of the args locators is visible, e.g. an
// upload progress bar.
func waitGone(ctx context.Context, tk *executor.Toolkit, step *flow.CustomStep, _ *core.ElementInfo) error {
	cands := argLocators(step)
	if len(cands) == 0 {
		return core.ErrInvalidConfig.WithMessage("waitGone needs css, path or text args")
	}
	deadline := time.Now().Add(tk.Timeout())
	for {
		el, err := tk.Find(ctx, cands...)
		if err == nil && el == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return core.ErrTargetTimeout.WithMessagef("%s still visible after %s", flow.DescribeAll(cands), tk.Timeout())
		}
		if err := tk.Sleep(ctx, tk.Poll()); err != nil {
			return err
		}
	}
}

// recordPostLink stores the published post's link from target's href or
// text. Args "url" and "id" are templates that take precedence; without
// "id" the id is taken from the link.
func recordPostLink(_ context.Context, tk *executor.Toolkit, step *flow.CustomStep, target *core.ElementInfo) error {
	var link, id string
	if target != nil {
		link = target.Attributes["href"]
		if link == "" {
			link = strings.TrimSpace(target.Text)
		}
	}
	if v := step.Args["url"]; v != "" {
		expanded, err := tk.Expand(v)
		if err != nil {
			return err
		}
		link = expanded
	}
	if v := step.Args["id"]; v != "" {
		expanded, err := tk.Expand(v)
		if err != nil {
			return err
		}
		id = expanded
	}
	if id == "" {
		id = postID(link)
	}
	if link == "" && id == "" {
		return executor.Skip()
	}
	tk.RecordPosted(id, link)
	tk.Log(core.SeverityInfo, "%s: post link %s", tk.Item().Code, link)
	return nil
}

// postID extracts a post id from common link shapes: ?v=, ?story_fbid=,
// ?id= or the last path segment.
func postID(link string) string {
	u, err := url.Parse(link)
	if err != nil || link == "" {
		return ""
	}
	q := u.Query()
	for _, k := range []string{"v", "story_fbid", "id"} {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return base
}
