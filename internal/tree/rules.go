// Package tree keeps the folder hierarchy acyclic and implements cascading
// deletes. Folder names are encrypted; only ids and parent links are visible
// to the document store.
package tree

import "github.com/jun/gophvault/internal/model"

// Item is something being moved: a folder or a file with its current parent.
type Item struct {
	ID       string
	FolderID string
	Type     string
}

// Contains reports whether ancestor appears anywhere in path.
func Contains(ancestor model.Folder, path []model.Folder) bool {
	for _, f := range path {
		if f.ID == ancestor.ID {
			return true
		}
	}
	return false
}

// CanMove reports whether every item may be moved into targetFolderID.
// path is the navigation path from the root to the target, inclusive, and
// must reflect the current tree. An empty selection cannot be moved.
func CanMove(items []Item, targetFolderID string, path []model.Folder) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.FolderID == targetFolderID {
			return false
		}
		if item.Type != model.TypeFolder {
			continue
		}
		if item.ID == targetFolderID || Contains(model.Folder{ID: item.ID}, path) {
			return false
		}
	}
	return true
}
