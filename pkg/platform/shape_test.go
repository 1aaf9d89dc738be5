package platform

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

func limitsOf(t *testing.T, name string) flow.Limits {
	t.Helper()
	p, err := Load(name, "")
	require.NoError(t, err)
	return p.Config.Limits
}

func numberedTags(n, width int) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag%0*d", width-3, i)
	}
	return tags
}

func TestShape_YouTube(t *testing.T) {
	s := NewShaper(limitsOf(t, "youtube"), rand.New(rand.NewSource(3)))

	item := core.WorkItem{
		Code:  "A",
		Title: strings.Repeat("x", 150),
		Tags:  numberedTags(40, 6),
	}
	out := s.Shape(item)

	assert.Equal(t, 100, utf8.RuneCountInString(out.Title))
	assert.True(t, strings.HasSuffix(out.Title, "..."))
	require.Len(t, out.Tags, 30)
	assert.Equal(t, item.Tags[:3], out.Tags[:3], "leading tags keep their place")
	assert.Len(t, item.Tags, 40, "input is not modified")
	assert.Equal(t, strings.Repeat("x", 150), item.Title)
}

func TestShape_TagCharBudget(t *testing.T) {
	s := NewShaper(flow.Limits{TagsMax: 30, TagCharsMax: 500}, nil)
	out := s.Shape(core.WorkItem{Title: "t", Tags: numberedTags(20, 30)})

	// 30 chars plus a separator each: 16 tags use 496
	assert.Len(t, out.Tags, 16)
}

func TestShape_NormalizesTags(t *testing.T) {
	s := NewShaper(flow.Limits{}, nil)
	out := s.Shape(core.WorkItem{Title: "t", Tags: []string{" #Go ", "go", "", "#", "rust"}})
	assert.Equal(t, []string{"Go", "rust"}, out.Tags)
}

func TestShape_TikTokCaption(t *testing.T) {
	l := limitsOf(t, "tiktok")
	s := NewShaper(l, nil)
	out := s.Shape(core.WorkItem{
		Title:       "clip",
		Description: strings.Repeat("d", 3000),
		Tags:        numberedTags(12, 5),
	})

	assert.Len(t, out.Tags, 10)
	caption := Caption(out)
	assert.LessOrEqual(t, utf8.RuneCountInString(caption), 2200)
	assert.True(t, strings.HasSuffix(caption, out.HashtagLine()))
	assert.Contains(t, caption, "...\n\n#")
}

func TestShape_FacebookCaption(t *testing.T) {
	l := limitsOf(t, "facebook")
	s := NewShaper(l, rand.New(rand.NewSource(5)))
	item := core.WorkItem{
		Title:       "reel",
		Description: strings.Repeat("d", 2500),
		Tags:        numberedTags(9, 5),
	}
	out := s.Shape(item)

	require.Len(t, out.Tags, 5)
	assert.Equal(t, item.Tags[:2], out.Tags[:2], "first two hashtags keep their place")
	assert.LessOrEqual(t, utf8.RuneCountInString(Caption(out)), 2000)
}

func TestShape_ShopeeDescriptionWithCrossPromotion(t *testing.T) {
	s := NewShaper(limitsOf(t, "shopee"), nil)

	out := s.Shape(core.WorkItem{
		Title:       "Soap",
		Description: "Gentle soap.",
		Options: core.PostingOptions{CrossPromotion: []core.CrossReference{
			{URL: "https://shop.example/p/1", Label: "Buy here"},
		}},
	})
	assert.Equal(t, "Gentle soap.\n\nBuy here\nhttps://shop.example/p/1", out.Description)

	long := s.Shape(core.WorkItem{Title: "Soap", Description: strings.Repeat("y", 600)})
	assert.Equal(t, 500, utf8.RuneCountInString(long.Description))
	assert.True(t, strings.HasSuffix(long.Description, "..."))
}

func TestShape_CrossPromotionNotDuplicated(t *testing.T) {
	s := NewShaper(flow.Limits{}, nil)
	out := s.Shape(core.WorkItem{
		Title:       "t",
		Description: "see https://a.example",
		Options: core.PostingOptions{CrossPromotion: []core.CrossReference{
			{URL: "https://a.example"},
			{URL: "https://b.example"},
		}},
	})
	assert.Equal(t, "see https://a.example\n\nhttps://b.example", out.Description)
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "", Caption(core.WorkItem{}))
	assert.Equal(t, "#a", Caption(core.WorkItem{Tags: []string{"a"}}))
	assert.Equal(t, "hi", Caption(core.WorkItem{Description: "hi"}))
	assert.Equal(t, "hi\n\n#a #b", Caption(core.WorkItem{Description: "hi", Tags: []string{"a", "b"}}))
}
