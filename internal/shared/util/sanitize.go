package util

import (
	"errors"
	"path/filepath"
	"strings"
)

const maxLabelLen = 120

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// SourceLabel derives an observation source label from a file path: the base
// name without extension, sanitized and capped.
func SourceLabel(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	label, err := SanitizeFileName(base)
	if err != nil || label == "." {
		return ""
	}
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
	}
	return label
}
