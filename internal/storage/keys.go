package storage

import (
	"fmt"
	"path"
	"strings"
)

// NormalizeKey cleans key and joins it under prefix. Keys that escape the
// prefix are rejected.
func NormalizeKey(prefix, key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	if prefix == "" {
		return cleaned, nil
	}
	return path.Join(prefix, cleaned), nil
}

func CleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

// JoinPrefix joins a listing prefix under the store prefix without cleaning
// it, so trailing separators and dashes survive.
func JoinPrefix(prefix, listPrefix string) string {
	listPrefix = strings.TrimPrefix(listPrefix, "/")
	if prefix == "" {
		return listPrefix
	}
	return prefix + "/" + listPrefix
}

// RelativeKey strips the store prefix from a full object key.
func RelativeKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}
