package report

import (
	"io"
	"sort"
)

// WriteUnclassified writes the unique request paths, sorted, one per line.
// An empty path disables the side file.
func WriteUnclassified(path string, paths []string) error {
	if path == "" {
		return nil
	}

	unique := make(map[string]struct{}, len(paths))
	sorted := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	return writeAtomic(path, func(w io.Writer) error {
		for _, p := range sorted {
			if _, err := io.WriteString(w, p+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}
