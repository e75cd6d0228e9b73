package classarea

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakvm/jvm/internal/classfile"
)

func TestClasspathLoaderMissingFileIsClassNotFound(t *testing.T) {
	loader := NewClasspathLoader(t.TempDir(), nil)

	_, err := loader.LoadClass("Nope")
	require.Error(t, err)
	require.True(t, IsClassNotFound(err))
}

func TestClasspathLoaderMalformedFileIsNotClassNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Garbage.class"), []byte{0, 0, 0, 0}, 0o644))
	loader := NewClasspathLoader(dir, nil)

	_, err := loader.LoadClass("Garbage")
	require.Error(t, err)
	require.False(t, IsClassNotFound(err), "a malformed class file is a format error, not a lookup miss")
}

func TestJmodLoaderMissingPathIsNotClassNotFound(t *testing.T) {
	loader := NewJmodLoader(filepath.Join(t.TempDir(), "does-not-exist.jmod"))

	_, err := loader.LoadClass("java/lang/Object")
	require.Error(t, err)
	require.False(t, IsClassNotFound(err), "a missing jmod archive is an I/O failure, not a lookup miss within it")
}

func TestClasspathLoaderDelegatesToParentBeforeNotFound(t *testing.T) {
	parent := &fakeLoader{classes: map[string]*classfile.ClassFile{
		"java/lang/Object": objectClassFile(),
	}}
	loader := NewClasspathLoader(t.TempDir(), parent)

	cf, err := loader.LoadClass("java/lang/Object")
	require.NoError(t, err)
	require.NotNil(t, cf)
}
