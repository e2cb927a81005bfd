package handoff

import (
	"strconv"
	"strings"
)

// DiffStat is the per-file line count change between two revisions.
type DiffStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// DiffTotals sums a set of DiffStats.
type DiffTotals struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Totals sums stats.
func Totals(stats []DiffStat) DiffTotals {
	t := DiffTotals{Files: len(stats)}
	for _, s := range stats {
		t.Added += s.Added
		t.Removed += s.Removed
	}
	return t
}

// ParseNumstat parses `git diff --numstat` output ("added<TAB>removed<TAB>path"
// per line). Binary files report "-" for both counts and map to 0/0. Lines
// with the wrong number of columns or non-numeric counts are skipped.
func ParseNumstat(out string) []DiffStat {
	var stats []DiffStat
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 3 || cols[2] == "" {
			continue
		}
		added, ok := parseCount(cols[0])
		if !ok {
			continue
		}
		removed, ok := parseCount(cols[1])
		if !ok {
			continue
		}
		stats = append(stats, DiffStat{Path: renameTarget(cols[2]), Added: added, Removed: removed})
	}
	return stats
}

func parseCount(s string) (int, bool) {
	if s == "-" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// renameTarget reduces git's rename notation to the destination path:
// "old => new" becomes "new" and "dir/{a => b}/f" becomes "dir/b/f".
func renameTarget(path string) string {
	if !strings.Contains(path, " => ") {
		return path
	}
	open := strings.Index(path, "{")
	close := strings.LastIndex(path, "}")
	if open >= 0 && close > open {
		inner := path[open+1 : close]
		parts := strings.SplitN(inner, " => ", 2)
		if len(parts) == 2 {
			joined := path[:open] + parts[1] + path[close+1:]
			return strings.ReplaceAll(joined, "//", "/")
		}
	}
	parts := strings.SplitN(path, " => ", 2)
	return parts[1]
}
