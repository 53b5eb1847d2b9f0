package devserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrFileTooLarge = errors.New("file too large")

type storedFile struct {
	path string
	name string
	size int64
}

// uploads keeps the files waiting for their analysis. A file is analysed at most once:
// Take hands it out and forgets it.
type uploads struct {
	dir     string
	maxSize int64

	mu    sync.Mutex
	files map[string]storedFile
}

func newUploads(dir string, maxSize int64) (*uploads, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &uploads{
		dir:     dir,
		maxSize: maxSize,
		files:   map[string]storedFile{},
	}, nil
}

// Save writes r under a fresh id. The original name is reduced to its base name.
func (u *uploads) Save(name string, r io.Reader) (string, storedFile, error) {
	id := uuid.NewString()
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "", storedFile{}, fmt.Errorf("no filename provided")
	}

	p := filepath.Join(u.dir, id+"_"+name)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", storedFile{}, err
	}

	src := r
	if u.maxSize > 0 {
		src = io.LimitReader(r, u.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && u.maxSize > 0 && n > u.maxSize {
		err = fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, u.maxSize)
	}
	if err != nil {
		_ = os.Remove(p)
		return "", storedFile{}, err
	}

	sf := storedFile{path: p, name: name, size: n}
	u.mu.Lock()
	u.files[id] = sf
	u.mu.Unlock()
	return id, sf, nil
}

func (u *uploads) Take(id string) (storedFile, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	sf, ok := u.files[id]
	if ok {
		delete(u.files, id)
	}
	return sf, ok
}

// Purge removes every file still waiting.
func (u *uploads) Purge() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, sf := range u.files {
		_ = os.Remove(sf.path)
		delete(u.files, id)
	}
}
