package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for captured child output. The primary (stdout) log is
// capped at 50 MB and the error (stderr) log at 10 MB; lumberjack drops the
// oldest backups first.
const (
	DefaultStdoutMaxSizeMB = 50
	DefaultStderrMaxSizeMB = 10
	DefaultMaxBackups      = 3
	DefaultMaxAgeDays      = 7
)

// Config describes log capture destinations for a managed unit.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type Config struct {
	Dir             string `mapstructure:"dir"`
	StdoutPath      string `mapstructure:"stdout"`
	StderrPath      string `mapstructure:"stderr"`
	StdoutMaxSizeMB int    `mapstructure:"stdout_max_size_mb"`
	StderrMaxSizeMB int    `mapstructure:"stderr_max_size_mb"`
	MaxBackups      int    `mapstructure:"max_backups"`
	MaxAgeDays      int    `mapstructure:"max_age_days"`
	Compress        bool   `mapstructure:"compress"`
}

// Writers returns size-rotated io.WriteClosers for a unit's stdout and
// stderr streams.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if stdout == "" && stderr == "" {
		return nil, nil, fmt.Errorf("no log destination for %s", name)
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(c.StdoutMaxSizeMB, DefaultStdoutMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(c.StderrMaxSizeMB, DefaultStderrMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	return outW, errW, nil
}

// ClearDir removes rotated and current log files under dir so a fresh start
// run is not confused with output from a previous one. The directory is
// created when missing.
func ClearDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o750)
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".log") || strings.Contains(name, ".log.") || strings.HasSuffix(name, ".log.gz") {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// New returns the supervisor's own structured logger writing to w.
// Terminal output goes through the colorized handler without timestamps;
// plain output keeps them for log collectors.
func New(w io.Writer, level slog.Level, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if color {
		return slog.New(NewColorTextHandler(w, opts, false))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
