package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// backupStamp sorts lexically in time order.
const backupStamp = "20060102-150405.000"

// rotatingFile is an append-only log file that is gzipped aside once it
// reaches maxSize. At most maxBackups compressed copies are kept.
// It is not safe for concurrent use.
type rotatingFile struct {
	path       string
	maxSize    int64
	maxBackups int
	now        func() time.Time

	f    *os.File
	size int64
}

func openRotatingFile(path string, maxSize int64, maxBackups int, now func() time.Time) (*rotatingFile, error) {
	dir := filepath.Dir(path)
	if isSymlink(dir) {
		return nil, fmt.Errorf("refusing symlinked log directory %s", dir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if isSymlink(path) {
		return nil, fmt.Errorf("refusing symlinked log file %s", path)
	}

	r := &rotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups, now: now}
	if err := r.open(); err != nil {
		return nil, err
	}
	if r.full() {
		if err := r.rotate(); err != nil {
			r.f.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) full() bool {
	return r.maxSize > 0 && r.size >= r.maxSize
}

// WriteLine appends line, rotating first when the file is full.
func (r *rotatingFile) WriteLine(line string) error {
	if r.full() {
		if err := r.rotate(); err != nil {
			return err
		}
	}
	n, err := io.WriteString(r.f, line)
	r.size += int64(n)
	return err
}

func (r *rotatingFile) rotate() error {
	if err := r.f.Close(); err != nil {
		return err
	}

	backup := fmt.Sprintf("%s.%s.gz", r.path, r.now().Format(backupStamp))
	if err := gzipFile(r.path, backup); err != nil {
		os.Remove(backup)
		if err := os.Rename(r.path, backup[:len(backup)-len(".gz")]); err != nil {
			return err
		}
	} else if err := os.Remove(r.path); err != nil {
		return err
	}

	r.prune()
	return r.open()
}

// prune removes the oldest backups beyond maxBackups.
func (r *rotatingFile) prune() {
	backups, err := filepath.Glob(r.path + ".*")
	if err != nil || len(backups) <= r.maxBackups {
		return
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-r.maxBackups] {
		os.Remove(old)
	}
}

func (r *rotatingFile) Close() error {
	return r.f.Close()
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}
