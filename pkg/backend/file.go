package backend

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// workFile is the document read by LoadWorkFile.
type workFile struct {
	Items []core.WorkItem `json:"items"`
	// Media maps a work item code to a file, relative to the work file
	Media map[string]string `json:"media"`
}

// LoadWorkFile builds a Memory backend from a local JSON work file, so a
// scene set can be rehearsed without a live backend:
//
//	{"items": [{"code": "A1", "title": "..."}], "media": {"A1": "clips/a1.mp4"}}
//
// Items without a media entry get a placeholder payload.
func LoadWorkFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work file: %w", err)
	}
	var wf workFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse work file %s: %w", path, err)
	}
	for i, item := range wf.Items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("work file item %d: %w", i, err)
		}
	}

	m := NewMemory(wf.Items...)
	base := filepath.Dir(path)
	for code, rel := range wf.Media {
		p := rel
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, rel)
		}
		payload, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("media for %s: %w", code, err)
		}
		m.AddMedia(code, &core.MediaFile{
			Name:     filepath.Base(p),
			MimeType: mimeTypeOf(p),
			Data:     payload,
		})
	}
	return m, nil
}

// mediaTypes covers the upload formats mime's system tables may lack.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
}

func mimeTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
