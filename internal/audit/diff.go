// Package audit compares two artifact trees by content hash.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Diff lists relative file paths, sorted, that differ between two trees.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare walks both trees. A file present in both is changed when the sha256
// of its contents differs. A missing root counts as an empty tree.
func Compare(oldDir, newDir string) (Diff, error) {
	oldSet, err := walk(oldDir)
	if err != nil {
		return Diff{}, err
	}
	newSet, err := walk(newDir)
	if err != nil {
		return Diff{}, err
	}
	var d Diff
	for rel := range newSet {
		if _, ok := oldSet[rel]; !ok {
			d.Added = append(d.Added, rel)
		}
	}
	for rel := range oldSet {
		if _, ok := newSet[rel]; !ok {
			d.Removed = append(d.Removed, rel)
			continue
		}
		same, err := sameContent(filepath.Join(oldDir, rel), filepath.Join(newDir, rel))
		if err != nil {
			return Diff{}, err
		}
		if !same {
			d.Changed = append(d.Changed, rel)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d, nil
}

func walk(root string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

func sameContent(a, b string) (bool, error) {
	ha, err := hashFile(a)
	if err != nil {
		return false, err
	}
	hb, err := hashFile(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Markdown renders the summary document.
func (d Diff) Markdown() string {
	var b strings.Builder
	b.WriteString("# Diff Summary\n\n")
	section(&b, "Added", d.Added)
	b.WriteString("\n")
	section(&b, "Removed", d.Removed)
	b.WriteString("\n")
	section(&b, "Changed", d.Changed)
	return b.String()
}

func section(b *strings.Builder, title string, items []string) {
	b.WriteString("## " + title + "\n")
	if len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}

// WriteSummary writes the markdown summary to out, creating its directory.
func WriteSummary(out string, d Diff) error {
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure dir: %w", err)
		}
	}
	return os.WriteFile(out, []byte(d.Markdown()), 0o644)
}
