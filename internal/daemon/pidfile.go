// Package daemon tracks the background factory server process through its
// PID file, so `asf serve start/stop/status` can find and signal it.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile records which process is serving the factory API.
type PIDFile struct {
	Path string
}

// NewPIDFile returns a PIDFile at the given path. Nothing is touched on
// disk until a write.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process as the server.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records the given process as the server, creating the state
// directory if needed.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// Read returns the recorded server PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds %q, not a process id", p.Path, raw)
	}
	return pid, nil
}

// Remove forgets the recorded server.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}
