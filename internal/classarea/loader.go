package classarea

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/oakvm/jvm/internal/classfile"
)

// Loader loads a class file's bytes by binary name. Implementations wrap
// a lookup miss in ErrClassNotFound (rather than an opaque error) so a
// bytecode-supplied class reference that doesn't exist can be turned into
// a NoClassDefFoundError by the caller instead of aborting the VM the way
// a genuinely corrupt archive or truncated read should.
type Loader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// JmodLoader loads classes out of a JDK jmod archive (a zip file prefixed
// with a 4-byte "JM\x01\x00" header).
type JmodLoader struct {
	Path string

	mu        sync.Mutex
	cache     map[string]*classfile.ClassFile
	zipReader *zip.Reader
}

// NewJmodLoader constructs a loader over the jmod at path. The archive is
// opened lazily on first LoadClass call.
func NewJmodLoader(path string) *JmodLoader {
	return &JmodLoader{Path: path, cache: make(map[string]*classfile.ClassFile)}
}

func (l *JmodLoader) ensureOpen() error {
	if l.zipReader != nil {
		return nil
	}
	f, err := os.Open(l.Path)
	if err != nil {
		return errors.Wrapf(err, "jmod: opening %s", l.Path)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "jmod: stat %s", l.Path)
	}
	data := make([]byte, stat.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return errors.Wrapf(err, "jmod: reading %s", l.Path)
	}

	body := data[4:] // skip the "JM\x01\x00" jmod header
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return errors.Wrap(err, "jmod: opening zip")
	}
	l.zipReader = r
	return nil
}

// LoadClass implements Loader.
func (l *JmodLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cf, ok := l.cache[name]; ok {
		return cf, nil
	}
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}

	target := "classes/" + name + ".class"
	for _, file := range l.zipReader.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "jmod: opening %s", target)
		}
		defer rc.Close()

		cf, err := classfile.Parse(rc)
		if err != nil {
			return nil, errors.Wrapf(err, "jmod: parsing %s", name)
		}
		l.cache[name] = cf
		return cf, nil
	}
	return nil, errors.Wrapf(ErrClassNotFound, "jmod: %s not found in %s", name, l.Path)
}

// ClasspathLoader loads user classes from a directory, delegating to a
// parent loader first (the bootstrap/jmod loader).
type ClasspathLoader struct {
	Dir    string
	Parent Loader

	mu    sync.Mutex
	cache map[string]*classfile.ClassFile
}

// NewClasspathLoader constructs a classpath loader chained to parent.
func NewClasspathLoader(dir string, parent Loader) *ClasspathLoader {
	return &ClasspathLoader{Dir: dir, Parent: parent, cache: make(map[string]*classfile.ClassFile)}
}

// LoadClass implements Loader.
func (l *ClasspathLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cf, ok := l.cache[name]; ok {
		return cf, nil
	}
	if l.Parent != nil {
		if cf, err := l.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	path := filepath.Join(l.Dir, name+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(ErrClassNotFound, "classpath: %s", name)
		}
		return nil, errors.Wrapf(err, "classpath: reading %s", name)
	}
	l.cache[name] = cf
	return cf, nil
}
