// Package media persists downloaded webhook attachments. Filenames embed the
// provider media id, which keeps them collision-free without content
// addressing.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rsharma-dev/wabulk/internal/model"
)

type Store interface {
	Save(asset model.MediaAsset) (path string, err error)
}

type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Save(asset model.MediaAsset) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(asset.Filename))
	if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return path, nil
}

// Filename derives the canonical on-disk name for a provider media object:
// whatsapp_<media id>.<extension from mime type>.
func Filename(mediaID, mimeType string) string {
	ext := "bin"
	if i := strings.LastIndex(mimeType, "/"); i >= 0 && i < len(mimeType)-1 {
		ext = mimeType[i+1:]
		// Strip mime parameters like "audio/ogg; codecs=opus".
		if j := strings.IndexAny(ext, "; "); j >= 0 {
			ext = ext[:j]
		}
	}
	return fmt.Sprintf("whatsapp_%s.%s", mediaID, ext)
}
