package save

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_CreatesDirectoryAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saves", "new")

	res, err := LoadOrCreate(dir)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, dir, res.Config.Path)
	assert.Equal(t, FormatVersion, res.Config.Version)

	b, err := os.ReadFile(ConfigPath(dir))
	require.NoError(t, err)
	s := string(b)
	assert.True(t, strings.HasSuffix(s, "\n"), "missing trailing newline")
	assert.False(t, strings.HasSuffix(s, "\n\n"), "more than one trailing newline")
	assert.NotContains(t, s, "\r")
	assert.Contains(t, s, "\tgenerator = ", "tables should be tab indented")
}

func TestLoadOrCreate_SecondCallIsExistingAndDoesNotWrite(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	require.NoError(t, err)
	require.True(t, first.Created)

	path := ConfigPath(dir)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := LoadOrCreate(dir)
	require.NoError(t, err)
	assert.False(t, second.Created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "existing config must not be rewritten")
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadOrCreate_RoundTripIsByteStable(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrCreate(dir)
	require.NoError(t, err)

	written, err := os.ReadFile(ConfigPath(dir))
	require.NoError(t, err)

	cfg, err := Load(dir)
	require.NoError(t, err)
	again, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Equal(t, string(written), string(again))
}

func TestLoadOrCreate_CorruptFileIsNeverOverwritten(t *testing.T) {
	dir := t.TempDir()
	path := ConfigPath(dir)
	corrupt := []byte("version = [not toml\n")
	require.NoError(t, os.WriteFile(path, corrupt, 0o644))

	_, err := LoadOrCreate(dir)
	require.Error(t, err)
	var invalid *InvalidSaveError
	require.True(t, errors.As(err, &invalid), "expected InvalidSaveError, got %T: %v", err, err)
	assert.Equal(t, path, invalid.Path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, corrupt, after)
}

func TestLoadOrCreate_PathIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := LoadOrCreate(file)
	var le *LoadError
	require.True(t, errors.As(err, &le), "expected LoadError, got %T: %v", err, err)
	assert.Equal(t, "creating save directory", le.Op)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestLoad_ResolvesActualPath(t *testing.T) {
	orig := t.TempDir()
	_, err := LoadOrCreate(orig)
	require.NoError(t, err)

	moved := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.Rename(orig, moved))

	res, err := LoadOrCreate(moved)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, moved, res.Config.Path)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(t.TempDir())
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "reading config file", le.Op)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ConfigPath(dir), []byte("= nope"), 0o644))
	_, err = Load(dir)
	var fe *FormatError
	assert.True(t, errors.As(err, &fe))
}

func TestLoad_KeepsEditedValues(t *testing.T) {
	dir := t.TempDir()
	data := "version = 1\ntitle = 'My World'\n\n[world]\n\tseed = 42\n\tgenerator = 'flat'\n"
	require.NoError(t, os.WriteFile(ConfigPath(dir), []byte(data), 0o644))

	res, err := LoadOrCreate(dir)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "My World", res.Config.Title)
	assert.Equal(t, int64(42), res.Config.World.Seed)
	assert.Equal(t, "flat", res.Config.World.Generator)
}

func TestEmptyPathIsRejected(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)
	_, err := LoadOrCreate(".")
	require.NoError(t, err, "a valid save in the working directory")

	_, err = Load("")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = LoadOrCreate("")
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "resolving save path", le.Op)
	assert.ErrorIs(t, err, ErrEmptyPath)
}
