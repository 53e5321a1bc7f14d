package email

import "os"

// FileSource provides access to attachment bytes.
type FileSource interface {
	Exists(path string) bool
	ReadAll(path string) ([]byte, error)
}

// OSFiles reads attachments from the local file system.
var OSFiles FileSource = osFiles{}

type osFiles struct{}

func (osFiles) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (osFiles) ReadAll(path string) ([]byte, error) {
	return os.ReadFile(path)
}
