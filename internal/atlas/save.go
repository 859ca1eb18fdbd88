package atlas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Save writes the room collection to path in the format selected by the
// path's extension (.json, .xml, or .dat). A pre-existing target is first
// copied byte-for-byte to a ".bak" sibling; backup failure is logged but
// does not abort the save. The document is marshalled from a snapshot of
// the collection, so readers are never blocked and an I/O failure leaves
// the in-memory state untouched.
//
// Postcondition: Returns nil on a completed save, or an error when
// marshalling or the final write failed.
func (s *Store) Save(path string) error {
	rooms := s.Rooms()

	var data []byte
	var err error
	switch filepath.Ext(path) {
	case ".json":
		data, err = EncodeJSON(rooms)
	case ".xml":
		data, err = EncodeMarkup(rooms)
	case ".dat":
		data, err = EncodeSnapshot(rooms)
	default:
		return fmt.Errorf("unknown map format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if bakErr := copyFile(path, path+".bak"); bakErr != nil {
			s.logger.Warn("map backup failed, saving anyway",
				zap.String("file", path),
				zap.Error(bakErr),
			)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing map file %s: %w", path, err)
	}
	s.logger.Info("map database saved",
		zap.String("file", path),
		zap.Int("rooms", len(rooms)),
	)
	return nil
}

// copyFile copies src to dst byte-for-byte.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
