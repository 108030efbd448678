// Package foldermap maps IMAP folder names onto Gmail labels.
package foldermap

import "strings"

// SystemLabel is one of Gmail's built-in label ids relevant to migrated mail.
type SystemLabel string

const (
	Inbox SystemLabel = "INBOX"
	Sent  SystemLabel = "SENT"
	Trash SystemLabel = "TRASH"
	Spam  SystemLabel = "SPAM"
	Draft SystemLabel = "DRAFT"
	None  SystemLabel = ""
)

// Mapping is the result of mapping one IMAP folder name.
type Mapping struct {
	CustomLabel string
	System      SystemLabel
}

// Folder maps an IMAP folder name (already IMAP-UTF-7 decoded, hierarchy
// separators normalized to "/" by the caller) to a Gmail custom label path
// and an optional system label, per the rule table: first match wins,
// matched case-insensitively on the leaf path component.
func Folder(prefix, name string) Mapping {
	path := normalizePath(name)
	leaf := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		leaf = path[idx+1:]
	}
	lower := strings.ToLower(leaf)

	switch {
	case lower == "inbox":
		return Mapping{CustomLabel: join(prefix, "Inbox"), System: Inbox}
	case strings.HasPrefix(lower, "sent"):
		return Mapping{CustomLabel: join(prefix, path), System: Sent}
	case strings.HasPrefix(lower, "trash"), strings.HasPrefix(lower, "deleted"):
		return Mapping{CustomLabel: join(prefix, path), System: Trash}
	case strings.HasPrefix(lower, "spam"), strings.HasPrefix(lower, "junk"):
		return Mapping{CustomLabel: join(prefix, path), System: Spam}
	case strings.HasPrefix(lower, "draft"):
		return Mapping{CustomLabel: join(prefix, path), System: Draft}
	default:
		return Mapping{CustomLabel: join(prefix, path), System: None}
	}
}

// normalizePath collapses empty or whitespace-only path components and
// trims leading/trailing separators.
func normalizePath(name string) string {
	parts := strings.Split(name, "/")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func join(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}
