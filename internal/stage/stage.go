// Package stage implements the staging-and-rename discipline shared by
// persona and keystore: files are written into a private scratch
// directory under a shared parent, then the whole directory is renamed
// into its final name in one atomic step. Readers never observe a
// half-constructed persona or kex directory.
package stage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quantarax/keystore/internal/kerr"
)

// Dir is an open staging directory. Callers write files into it via
// WriteFile, then either Publish it under its final name or Abort it.
type Dir struct {
	path  string
	files []string
}

// New allocates "<parent>/<secs_hex>.<usecs_hex>.<pid>" and creates it
// with mode 0700.
func New(parent string) (*Dir, error) {
	now := time.Now()
	secs := now.Unix()
	usecs := now.UnixMicro() - secs*1_000_000
	name := strconv.FormatInt(secs, 16) + "." + strconv.FormatInt(usecs, 16) + "." + strconv.Itoa(os.Getpid())
	path := filepath.Join(parent, name)

	if err := os.Mkdir(path, 0700); err != nil {
		return nil, kerr.New(kerr.IoError, "stage.New", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the staging directory's current path.
func (d *Dir) Path() string { return d.path }

// WriteFile creates name inside the staging directory exclusively with
// mode 0600 and writes data to it, tracking it for cleanup on Abort.
func (d *Dir) WriteFile(name string, data []byte) error {
	p := filepath.Join(d.path, name)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return kerr.New(kerr.IoError, "stage.WriteFile", err)
	}
	d.files = append(d.files, name)

	n, err := f.Write(data)
	if err == nil && n < len(data) {
		err = errors.New("short write")
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return kerr.New(kerr.IoError, "stage.WriteFile", err)
	}
	return nil
}

// Publish renames the staging directory to final. If final already
// exists, or the rename itself fails, the staging directory and every
// file written into it are removed and Conflict is returned, preserving
// the underlying OS error for diagnostics.
func (d *Dir) Publish(final string) error {
	if _, err := os.Stat(final); err == nil {
		d.Abort()
		return kerr.New(kerr.Conflict, "stage.Publish", fmt.Errorf("%s already exists", final))
	}
	if err := os.Rename(d.path, final); err != nil {
		d.Abort()
		return kerr.New(kerr.Conflict, "stage.Publish", err)
	}
	return nil
}

// Abort best-effort removes every file written into the staging
// directory and the directory itself.
func (d *Dir) Abort() {
	for _, name := range d.files {
		os.Remove(filepath.Join(d.path, name))
	}
	os.Remove(d.path)
}
