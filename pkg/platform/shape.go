package platform

import (
	"strings"
	"unicode/utf8"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
	"github.com/devicelab-dev/publish-agent/pkg/jsengine"
)

// Shuffler reorders tags. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Shaper fits item metadata into a platform's limits.
type Shaper struct {
	limits flow.Limits
	rng    Shuffler
}

// NewShaper creates a Shaper. rng may be nil when the limits do not shuffle.
func NewShaper(limits flow.Limits, rng Shuffler) *Shaper {
	return &Shaper{limits: limits, rng: rng}
}

// Shape returns a copy of item that satisfies the limits. Cross-promotion
// links are appended to the description before it is truncated.
func (s *Shaper) Shape(item core.WorkItem) core.WorkItem {
	l := s.limits
	out := item

	out.Title = jsengine.Truncate(strings.TrimSpace(item.Title), l.TitleMax)
	out.Tags = s.tags(item.Tags)
	out.Description = jsengine.Truncate(withCrossPromotion(item.Description, item.Options.CrossPromotion), l.DescriptionMax)

	if l.CaptionMax > 0 {
		for len(out.Tags) > 0 && runes(out.HashtagLine())+2 > l.CaptionMax {
			out.Tags = out.Tags[:len(out.Tags)-1]
		}
		budget := l.CaptionMax
		if h := out.HashtagLine(); h != "" {
			budget -= runes(h) + 2
		}
		out.Description = jsengine.Truncate(out.Description, budget)
	}
	return out
}

func (s *Shaper) tags(in []string) []string {
	l := s.limits
	seen := make(map[string]bool, len(in))
	tags := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, t)
	}

	if l.ShuffleTags && s.rng != nil && len(tags) > l.KeepFirstTags+1 {
		rest := tags[l.KeepFirstTags:]
		s.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	}
	if l.TagsMax > 0 && len(tags) > l.TagsMax {
		tags = tags[:l.TagsMax]
	}
	if l.TagCharsMax > 0 {
		total := 0
		for i, t := range tags {
			// one separator per tag
			total += runes(t) + 1
			if total > l.TagCharsMax {
				tags = tags[:i]
				break
			}
		}
	}
	return tags
}

func withCrossPromotion(desc string, refs []core.CrossReference) string {
	var lines []string
	for _, r := range refs {
		if r.URL == "" || strings.Contains(desc, r.URL) {
			continue
		}
		if r.Label != "" {
			lines = append(lines, r.Label+"\n"+r.URL)
		} else {
			lines = append(lines, r.URL)
		}
	}
	if len(lines) == 0 {
		return desc
	}
	block := strings.Join(lines, "\n")
	if strings.TrimSpace(desc) == "" {
		return block
	}
	return strings.TrimRight(desc, "\n") + "\n\n" + block
}

// Caption joins description and hashtags the way caption-only platforms
// expect them.
func Caption(item core.WorkItem) string {
	h := item.HashtagLine()
	switch {
	case h == "":
		return item.Description
	case item.Description == "":
		return h
	}
	return item.Description + "\n\n" + h
}

func runes(s string) int { return utf8.RuneCountInString(s) }
