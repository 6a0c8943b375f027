package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockFileName = ".lock"

// Manager allocate per job directories under root
type Manager struct {
	root string
}

// NewManager create Manager, root is created when missing
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "workspace.NewManager", err, fmt.Sprintf("建立 workspace root[%s] 失敗", root))
	}
	return &Manager{root: root}, nil
}

// Root workspace root dir
func (m *Manager) Root() string {
	return m.root
}

// Workspace one job's scratch directory, locked while in use
type Workspace struct {
	jobName string
	dir     string
	lock    *flock.Flock

	once sync.Once
	err  error
}

// Acquire create <root>/<jobName>-<uuid>/ and lock it
func (m *Manager) Acquire(jobName string) (*Workspace, error) {
	dir := filepath.Join(m.root, fmt.Sprintf("%s-%s", jobName, uuid.NewString()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "workspace.Acquire", err, fmt.Sprintf("建立 workspace[%s] 失敗", dir))
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		_ = os.RemoveAll(dir)
		return nil, errprocess.Wrap(errprocess.KindTransient, "workspace.Acquire", err, fmt.Sprintf("鎖定 workspace[%s] 失敗", dir))
	}

	logger.Log.Debug("workspace acquired", zap.String("dir", dir))
	return &Workspace{jobName: jobName, dir: dir, lock: lock}, nil
}

// Dir workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// InputPath <dir>/<jobName>-input<ext>
func (w *Workspace) InputPath(ext string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-input%s", w.jobName, ext))
}

// OutputPath <dir>/<jobName>-output.mp4
func (w *Workspace) OutputPath() string {
	return filepath.Join(w.dir, domain.OutputFileName(w.jobName))
}

// Release remove the directory, safe to call more than once
func (w *Workspace) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.err = errprocess.Wrap(errprocess.KindTransient, "workspace.Release", err, fmt.Sprintf("移除 workspace[%s] 失敗", w.dir))
			logger.Log.Warn("workspace release failed", zap.String("dir", w.dir), zap.Error(err))
		}
		_ = w.lock.Unlock()
	})
	return w.err
}

// Sweep remove directories left by dead processes, a directory whose lock
// can be taken has no live owner. Returns the removed directories.
func (m *Manager) Sweep() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "workspace.Sweep", err, fmt.Sprintf("讀取 workspace root[%s] 失敗", m.root))
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(m.root, e.Name())
		lock := flock.New(filepath.Join(dir, lockFileName))
		ok, err := lock.TryLock()
		if err != nil || !ok {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Log.Warn("workspace sweep failed", zap.String("dir", dir), zap.Error(err))
		} else {
			removed = append(removed, dir)
		}
		_ = lock.Unlock()
	}

	if len(removed) > 0 {
		logger.Log.Info("stale workspaces removed", zap.Int("count", len(removed)))
	}
	return removed, nil
}
