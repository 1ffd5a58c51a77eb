package extract

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListFiles returns the regular files in dir whose name starts with prefix
// and whose extension equals ext (both case-insensitive), sorted by name.
func ListFiles(dir, prefix, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("extract: list %s: %w", dir, err)
	}
	prefix = strings.ToLower(prefix)
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(name), prefix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// FilterSample keeps only files named like "*sample*" when sample is true,
// and drops them otherwise.
func FilterSample(paths []string, sample bool) []string {
	var out []string
	for _, p := range paths {
		isSample := strings.Contains(strings.ToLower(filepath.Base(p)), "sample")
		if isSample == sample {
			out = append(out, p)
		}
	}
	return out
}

// FilterListed keeps the paths whose base name is in names. A nil names
// keeps everything.
func FilterListed(paths, names []string) []string {
	if names == nil {
		return paths
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[filepath.Base(n)] = struct{}{}
	}
	var out []string
	for _, p := range paths {
		if _, ok := set[filepath.Base(p)]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ReadList reads a text file line by line and returns the non-empty lines
// that do not start with '#', in order.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// stem returns the file name without directory and extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
