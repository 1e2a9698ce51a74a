package blob

import (
	fsstore "gridreg/internal/infra/blob/fs"
)

// NewFilesystem returns a filesystem-backed blob.Store rooted at path,
// creating the directory if needed.
func NewFilesystem(root string) (Store, error) {
	return fsstore.New(root)
}
