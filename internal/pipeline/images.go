package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^\w+$`)

// listImages returns the sorted identifiers of files in dir named
// {identifier}.{ext}. A missing directory yields no identifiers.
func listImages(dir, ext string) ([]string, error) {
	if dir == "" || ext == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := imageIdentifier(entry.Name(), ext); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func imageIdentifier(name, ext string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	fileExt := filepath.Ext(name)
	if fileExt == "" || !strings.EqualFold(fileExt[1:], ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, fileExt)
	if !identifierPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// findImage locates the file for id in dir, tolerating extension case.
func findImage(dir, id, ext string) (string, bool) {
	exact := filepath.Join(dir, id+"."+ext)
	if fileExists(exact) {
		return exact, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if got, ok := imageIdentifier(entry.Name(), ext); ok && got == id {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
