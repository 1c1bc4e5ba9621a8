package monitor

import (
	"os"
	"path/filepath"
	"strings"

	"taskpilot/pkg/interfaces"
)

// FileSignalSource reads operator signal files from a directory. A file
// named after the signal raises it; the file body is the payload.
type FileSignalSource struct {
	dir string
}

func NewFileSignalSource(dir string) (*FileSignalSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileSignalSource{dir: dir}, nil
}

func (f *FileSignalSource) Check(name string) (bool, string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if os.IsNotExist(err) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, strings.TrimSpace(string(data)), nil
}

func (f *FileSignalSource) Consume(name string) error {
	err := os.Remove(filepath.Join(f.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ interfaces.SignalSource = (*FileSignalSource)(nil)
