package recovery

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

const archiveExt = ".zst"

func archiveName(logPath string, n int) string {
	return fmt.Sprintf("%s.%d%s", logPath, n, archiveExt)
}

// nextArchiveName picks the first free <log>.<n>.zst name.
func nextArchiveName(fs afero.Fs, logPath string) (string, error) {
	for n := 1; ; n++ {
		name := archiveName(logPath, n)
		exists, err := afero.Exists(fs, name)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if !exists {
			return name, nil
		}
	}
}

// archiveLocked stores a zstd-compressed copy of the log file next to it.
// An empty log is not archived.
func (m *Manager) archiveLocked() (string, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return "", fmt.Errorf("failed to read log file: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	name, err := nextArchiveName(m.fs, m.path)
	if err != nil {
		return "", err
	}

	if err := afero.WriteFile(m.fs, name, enc.EncodeAll(data, nil), 0o644); err != nil {
		return "", fmt.Errorf("failed to write log archive: %w", err)
	}

	m.log.Infow("log archived", "archive", name, "raw", len(data))
	return name, nil
}

// ReadArchive decodes the records of a log archive written by Recover.
func ReadArchive(fs afero.Fs, path string) ([]LogRecord, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log archive: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLogCorrupted, path, err)
	}

	return decodeLog(raw)
}

// ReadLogFile decodes a log file without opening it for writing.
func ReadLogFile(fs afero.Fs, path string) ([]LogRecord, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return decodeLog(data)
}
