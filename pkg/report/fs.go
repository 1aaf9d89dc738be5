package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}

// atomicWriteJSON writes v through a temp file and rename so readers never
// see a partial file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) //#nosec G304 -- report paths are derived from the reports dir
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ReadIndex loads report.json from a run directory.
func ReadIndex(runDir string) (*Index, error) {
	var idx Index
	if err := readJSON(filepath.Join(runDir, "report.json"), &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

// ReadItem loads an item detail file referenced by an index entry.
func ReadItem(runDir string, entry ItemEntry) (*ItemDetail, error) {
	var d ItemDetail
	if err := readJSON(filepath.Join(runDir, entry.DataFile), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListRuns returns run directories under root, newest first.
func ListRuns(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	type run struct {
		dir string
		mod int64
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		info, err := os.Stat(filepath.Join(dir, "report.json"))
		if err != nil {
			continue
		}
		runs = append(runs, run{dir, info.ModTime().UnixNano()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].mod > runs[j].mod })
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.dir
	}
	return out, nil
}
