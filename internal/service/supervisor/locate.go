package supervisor

import (
	"os"
	"path/filepath"
	"strings"
)

// MaxSearchDepth bounds the directory levels searched below an install dir.
const MaxSearchDepth = 8

// FindFirst returns the first regular file under root whose name matches one
// of names case-insensitively, searching breadth-first up to depth levels.
// Earlier names win within the same level.
func FindFirst(root string, names []string, depth int) (string, bool) {
	wanted := make(map[string]int, len(names))
	for i, name := range names {
		wanted[strings.ToLower(name)] = i
	}

	level := []string{filepath.Clean(root)}

	for current := 0; current <= depth && len(level) > 0; current++ {
		var (
			next      []string
			bestPath  string
			bestIndex = len(names)
		)

		for _, dir := range level {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}

			for _, entry := range entries {
				path := filepath.Join(dir, entry.Name())

				if entry.IsDir() {
					next = append(next, path)

					continue
				}

				if index, ok := wanted[strings.ToLower(entry.Name())]; ok && index < bestIndex {
					bestPath, bestIndex = path, index
				}
			}
		}

		if bestPath != "" {
			return bestPath, true
		}

		level = next
	}

	return "", false
}
