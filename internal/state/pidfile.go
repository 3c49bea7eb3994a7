package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/loykin/stackd/internal/descriptor"
)

// Meta is the JSON trailer of a PID file. StartUnix guards against PID
// reuse: a live process with a different start time is not our child.
type Meta struct {
	Name       string           `json:"name"`
	Port       int              `json:"port,omitempty"`
	Group      descriptor.Group `json:"group"`
	HealthPath string           `json:"health_path,omitempty"`
	StartUnix  int64            `json:"start_unix"`
}

// PIDFilePath returns the deterministic PID file path for a unit name.
func PIDFilePath(dir, name string) string {
	return filepath.Join(dir, name+".pid")
}

// WritePIDFile atomically writes "<pid>\n<meta JSON>\n" so a concurrent
// status invocation never observes a partial file.
func WritePIDFile(dir string, pid int, meta Meta) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(body) + "\n"
	return renameio.WriteFile(PIDFilePath(dir, meta.Name), []byte(content), 0o600)
}

// ReadPIDFile parses a PID file written by WritePIDFile. Legacy files that
// contain only a PID yield a zero Meta.
func ReadPIDFile(path string) (int, Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, Meta{}, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, Meta{}, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	var meta Meta
	rest = strings.TrimSpace(rest)
	if rest != "" {
		// Return the PID even when the meta trailer is unreadable.
		_ = json.Unmarshal([]byte(rest), &meta)
	}
	if meta.Name == "" {
		base := filepath.Base(path)
		meta.Name = strings.TrimSuffix(base, ".pid")
	}
	return pid, meta, nil
}

// RemovePIDFile removes a unit's PID file, best-effort.
func RemovePIDFile(dir, name string) {
	_ = os.Remove(PIDFilePath(dir, name))
}

// Alive reports whether a process with pid exists. EPERM counts as alive:
// the process is there, we just may not signal it.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
