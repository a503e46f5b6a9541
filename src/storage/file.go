package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

// valueSize is the on-disk width of one item slot.
const valueSize = 8

var (
	errDataFileMissing   = errors.New("data file does not exist")
	errDataFileMalformed = errors.New("data file is malformed")
)

func readDataFile(fs afero.Fs, path string, items int) ([]common.Value, error) {
	data, err := afero.ReadFile(fs, filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errDataFileMissing
	} else if err != nil {
		return nil, err
	}

	if len(data) != items*valueSize {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			errDataFileMalformed,
			items*valueSize,
			len(data),
		)
	}

	values := make([]common.Value, items)
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, values); err != nil {
		return nil, fmt.Errorf("%w: %w", errDataFileMalformed, err)
	}

	return values, nil
}

// writeDataFile replaces the data file with values. The new contents go to a
// temporary file first and are renamed over the old one, so a crash leaves
// either the old or the new array on disk.
func writeDataFile(fs afero.Fs, path string, values []common.Value) (err error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(values)*valueSize))
	if err := binary.Write(buf, binary.BigEndian, values); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmpPath := filepath.Clean(path) + ".tmp"
	file, err := fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmpPath, err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		return errors.Join(fmt.Errorf("failed to write %s: %w", tmpPath, err), file.Close())
	}

	if err := file.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync %s: %w", tmpPath, err), file.Close())
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	return fs.Rename(tmpPath, filepath.Clean(path))
}
