package resource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/Lingua/pkg/errors"
)

func memStore(t *testing.T, files map[string]string) *ScriptStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, src := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("scripts", name), []byte(src), 0o644))
	}
	return NewScriptStore(fs, "scripts")
}

func TestScriptStore_Load(t *testing.T) {
	s := memStore(t, map[string]string{"main.tengo": `log("hi")`})

	data, err := s.Load("main.tengo")
	require.NoError(t, err)
	assert.Equal(t, `log("hi")`, string(data))

	sum, ok := s.Checksum("main.tengo")
	require.True(t, ok)
	assert.Len(t, sum, 64)
}

func TestScriptStore_LoadNotFound(t *testing.T) {
	s := memStore(t, nil)

	_, err := s.Load("missing.tengo")
	assert.Equal(t, errors.ErrCodeScriptNotFound, errors.CodeOf(err))
	_, ok := s.Checksum("missing.tengo")
	assert.False(t, ok)

	_, err = s.Load("")
	assert.Equal(t, errors.ErrCodeScriptNotFound, errors.CodeOf(err))
}

func TestScriptStore_NamesStayUnderRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "secret.tengo", []byte("secret"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "scripts/secret.tengo", []byte("inside"), 0o644))
	s := NewScriptStore(fs, "scripts")

	data, err := s.Load("../secret.tengo")
	require.NoError(t, err)
	assert.Equal(t, "inside", string(data))
}

func TestScriptStore_ChecksumTracksContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "scripts/a.tengo", []byte("v1"), 0o644))
	s := NewScriptStore(fs, "scripts")

	_, err := s.Load("a.tengo")
	require.NoError(t, err)
	first, _ := s.Checksum("a.tengo")

	require.NoError(t, afero.WriteFile(fs, "scripts/a.tengo", []byte("v2"), 0o644))
	_, err = s.Load("a.tengo")
	require.NoError(t, err)
	second, _ := s.Checksum("a.tengo")
	assert.NotEqual(t, first, second)
}

func TestScriptStore_List(t *testing.T) {
	s := memStore(t, map[string]string{
		"b.tengo":         "",
		"a.tengo":         "",
		"lib/util.tengo":  "",
		"README.md":       "",
		"cleanup.yaml":    "",
	})

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tengo", "b.tengo", "lib/util.tengo"}, names)
}

func TestScriptStore_WatchSkipsMemFs(t *testing.T) {
	s := memStore(t, nil)
	assert.NoError(t, s.Watch(context.Background(), func(string) {}))
	s.Close()
}

func TestScriptStore_WatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tengo"), []byte("v1"), 0o644))
	s := NewScriptStore(afero.NewOsFs(), dir)
	defer s.Close()

	var mu sync.Mutex
	var changed []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx, func(name string) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, name)
	}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tengo"), []byte("v2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, changed, "notes.txt")
	assert.Equal(t, "a.tengo", changed[0])
}
