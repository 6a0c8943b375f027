package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transcoding_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	logger.SetNewNop()
	m, err := NewManager(filepath.Join(t.TempDir(), "transcode"))
	require.NoError(t, err)

	ws, err := m.Acquire("clip")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Dir()), "clip-"))
	assert.Equal(t, filepath.Join(ws.Dir(), "clip-input.mov"), ws.InputPath(".mov"))
	assert.Equal(t, filepath.Join(ws.Dir(), "clip-output.mp4"), ws.OutputPath())

	require.NoError(t, os.WriteFile(ws.InputPath(".mov"), []byte("in"), 0644))
	require.NoError(t, os.WriteFile(ws.OutputPath(), []byte("out"), 0644))

	require.NoError(t, ws.Release())
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, ws.Release(), "release twice")
}

func TestAcquireIsolatesSameName(t *testing.T) {
	logger.SetNewNop()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	a, err := m.Acquire("clip")
	require.NoError(t, err)
	b, err := m.Acquire("clip")
	require.NoError(t, err)
	defer a.Release()
	defer b.Release()

	assert.NotEqual(t, a.Dir(), b.Dir())
}

func TestSweep(t *testing.T) {
	logger.SetNewNop()
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)

	live, err := m.Acquire("live")
	require.NoError(t, err)
	defer live.Release()

	// 沒有持有者的目錄, 模擬 worker crash 留下的殘骸
	stale := filepath.Join(root, "dead-1234")
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "dead-input.mov"), []byte("x"), 0644))

	removed, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, removed)

	_, err = os.Stat(live.Dir())
	assert.NoError(t, err, "locked workspace survives the sweep")
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
