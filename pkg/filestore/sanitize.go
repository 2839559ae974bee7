package filestore

import (
	"strings"
	"unicode"
)

// SafeNameMaxLen caps sanitized filenames. Longer names are truncated with
// the extension preserved.
const SafeNameMaxLen = 100

// reservedNames are Windows device names that cannot be used as a file
// stem regardless of extension.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName rewrites a client-supplied filename into one that is safe to
// store and to serve on any platform:
//
//   - path separators and traversal segments are collapsed, so
//     "../../etc/passwd" becomes "etc_passwd"
//   - characters forbidden on common filesystems and control characters
//     become "_"
//   - reserved Windows device stems get a "_" prefix ("CON.txt" to
//     "_CON.txt")
//   - empty results fall back to "unnamed_file"
//   - names longer than SafeNameMaxLen are truncated, keeping the extension
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")

	// Drop traversal and empty segments, join the rest with "_".
	var parts []string
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		parts = append(parts, seg)
	}
	name = strings.Join(parts, "_")

	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			return '_'
		}
		if r < 0x20 || r == 0x7f || unicode.Is(unicode.Cc, r) {
			return '_'
		}
		return r
	}, name)

	// Trailing dots and spaces are invisible or stripped on Windows.
	name = strings.TrimRight(name, ". ")

	if name == "" {
		return "unnamed_file"
	}

	stem := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem = name[:i]
	}
	if reservedNames[strings.ToUpper(stem)] {
		name = "_" + name
	}

	return truncateName(name, SafeNameMaxLen)
}

// truncateName shortens name to max runes, preserving a short extension.
func truncateName(name string, max int) string {
	runes := []rune(name)
	if len(runes) <= max {
		return name
	}
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		candidate := name[i:]
		if len([]rune(candidate)) <= 20 {
			ext = candidate
		}
	}
	keep := max - len([]rune(ext))
	if keep < 1 {
		return string(runes[:max])
	}
	base := strings.TrimSuffix(name, ext)
	baseRunes := []rune(base)
	if len(baseRunes) > keep {
		baseRunes = baseRunes[:keep]
	}
	return string(baseRunes) + ext
}
