// Package autobackup periodically archives hosted regions to disk and,
// optionally, to the object store.
package autobackup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/assets/archive"
	"regionsim.ai/internal/config"
	"regionsim.ai/internal/persistence/journal"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
)

const (
	Name = "autobackup"

	RegionFile  = "region.json"
	TerrainFile = "terrain.r32"
	extension   = ".tar.zst"
)

var ErrBusy = errors.New("region busy")

// Enqueuer accepts finished backup files for upload.
type Enqueuer interface {
	Enqueue(localPath string) bool
}

type Module struct {
	assets   assets.Service
	uploader Enqueuer
	journal  *journal.Journal
	log      *log.Logger
	now      func() time.Time

	cfg     config.Config
	enabled bool

	mu      sync.Mutex
	regions map[uuid.UUID]*regionTimer
	closed  bool
}

type regionTimer struct {
	state AutoBackupModuleState
	stop  chan struct{}
	done  chan struct{}
	// serializes backups of the same region
	mu sync.Mutex
}

var _ scene.RegionModule = (*Module)(nil)

func New(d modules.Deps, uploader Enqueuer) *Module {
	return &Module{
		assets:   d.Assets,
		uploader: uploader,
		journal:  d.Journal,
		log:      d.ModuleLogger(Name),
		now:      time.Now,
		regions:  map[uuid.UUID]*regionTimer{},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Initialise(cfg config.Config) error {
	m.cfg = cfg
	m.enabled = cfg.ModuleEnabled(Name)
	return nil
}

func (m *Module) AddRegion(s *scene.Scene) {
	if !m.enabled {
		return
	}
	st := StateFor(m.cfg.AutoBackup, m.cfg.Grid.DataDir, s.ID().String(), s.Name())
	m.mu.Lock()
	m.regions[s.ID()] = &regionTimer{state: st}
	m.mu.Unlock()
}

// RegionLoaded starts the backup timer of s when its state is enabled.
func (m *Module) RegionLoaded(s *scene.Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.regions[s.ID()]
	if !ok || !rt.state.Enabled || m.closed || rt.stop != nil {
		return
	}
	rt.stop = make(chan struct{})
	rt.done = make(chan struct{})
	go m.loop(s, rt)
	m.log.Printf("%s: backups every %s (%s naming) to %s", s.Name(), rt.state.Interval, rt.state.NamingType, rt.state.BackupDir)
}

func (m *Module) loop(s *scene.Scene, rt *regionTimer) {
	defer close(rt.done)
	t := time.NewTicker(rt.state.Interval)
	defer t.Stop()
	for {
		select {
		case <-rt.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if _, err := m.Backup(ctx, s); err != nil && !errors.Is(err, ErrBusy) {
				m.log.Printf("%s: backup failed: %v", s.Name(), err)
			}
			cancel()
		}
	}
}

func (m *Module) RemoveRegion(s *scene.Scene) {
	m.mu.Lock()
	rt, ok := m.regions[s.ID()]
	delete(m.regions, s.ID())
	m.mu.Unlock()
	if ok {
		stopTimer(rt)
	}
}

func (m *Module) Close() {
	m.mu.Lock()
	m.closed = true
	timers := make([]*regionTimer, 0, len(m.regions))
	for _, rt := range m.regions {
		timers = append(timers, rt)
	}
	m.mu.Unlock()
	for _, rt := range timers {
		stopTimer(rt)
	}
}

func stopTimer(rt *regionTimer) {
	if rt.stop == nil {
		return
	}
	close(rt.stop)
	<-rt.done
}

// State returns the effective policy of a hosted region.
func (m *Module) State(regionID uuid.UUID) (AutoBackupModuleState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.regions[regionID]
	if !ok {
		return AutoBackupModuleState{}, false
	}
	return rt.state, true
}

// Backup writes one archive of s now. It returns ErrBusy without writing
// when the busy check is on and too many root agents are present.
func (m *Module) Backup(ctx context.Context, s *scene.Scene) (string, error) {
	m.mu.Lock()
	rt, ok := m.regions[s.ID()]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("region %s has no backup state", s.Name())
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st := rt.state

	if st.BusyCheck && s.RootAgentCount() > st.BusyAgentThreshold {
		m.log.Printf("%s: busy with %d agents, backup skipped", s.Name(), s.RootAgentCount())
		return "", ErrBusy
	}
	if err := os.MkdirAll(st.BackupDir, 0o755); err != nil {
		return "", err
	}
	base := fileBase(s.Name())
	name, err := m.fileName(st, base)
	if err != nil {
		return "", err
	}
	final := filepath.Join(st.BackupDir, name)

	tmp, err := os.CreateTemp(st.BackupDir, "."+base+"-*.tmp")
	if err != nil {
		return "", err
	}
	if err := m.writeArchive(ctx, tmp, s); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	m.log.Printf("%s: backup written to %s", s.Name(), final)
	_ = m.journal.Record("backup.written", map[string]any{"region": s.ID().String(), "path": final})

	if st.NamingType != NamingOverwrite && st.KeepFilesForDays > 0 {
		m.prune(st, base)
	}
	if st.Upload && m.uploader != nil {
		m.uploader.Enqueue(final)
	}
	return final, nil
}

func (m *Module) writeArchive(ctx context.Context, f *os.File, s *scene.Scene) error {
	w, err := archive.NewWriter(f, archive.Zstd)
	if err != nil {
		return err
	}
	region, err := json.MarshalIndent(s.Region, "", "  ")
	if err != nil {
		return err
	}
	if err := w.WriteFile(RegionFile, region); err != nil {
		return err
	}
	var terrainBuf bytes.Buffer
	if err := s.TerrainSnapshot().WriteR32(&terrainBuf); err != nil {
		return err
	}
	if err := w.WriteFile(TerrainFile, terrainBuf.Bytes()); err != nil {
		return err
	}
	if err := w.WriteAssets(m.referencedAssets(ctx, s)); err != nil {
		return err
	}
	return w.Close()
}

// referencedAssets loads the textures the region settings point at. Missing
// assets are logged and left out.
func (m *Module) referencedAssets(ctx context.Context, s *scene.Scene) []*assets.Asset {
	if m.assets == nil {
		return nil
	}
	seen := map[uuid.UUID]bool{}
	var out []*assets.Asset
	for _, id := range s.Settings.TerrainTextures {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		a, err := m.assets.Get(ctx, id)
		if err != nil {
			m.log.Printf("%s: asset %s not archived: %v", s.Name(), id, err)
			continue
		}
		out = append(out, a)
	}
	return out
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func fileBase(regionName string) string {
	b := strings.Trim(unsafeName.ReplaceAllString(regionName, "_"), "_.")
	if b == "" {
		return "region"
	}
	return b
}

func (m *Module) fileName(st AutoBackupModuleState, base string) (string, error) {
	switch st.NamingType {
	case NamingOverwrite:
		return base + extension, nil
	case NamingSequential:
		n, err := nextSequence(st.BackupDir, base)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s_%d%s", base, n, extension), nil
	default:
		return base + "_" + m.now().UTC().Format("2006-01-02_15-04-05") + extension, nil
	}
}

// archivePattern matches base's own Time and Sequential archives and nothing
// else, in particular not those of "<base>_North".
func archivePattern(base string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}|\d+)` + regexp.QuoteMeta(extension) + `$`)
}

// nextSequence is one more than the highest <base>_<n> archive in dir.
func nextSequence(dir, base string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	pat := archivePattern(base)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pat.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// prune removes archives of base older than KeepFilesForDays.
func (m *Module) prune(st AutoBackupModuleState, base string) {
	entries, err := os.ReadDir(st.BackupDir)
	if err != nil {
		m.log.Printf("prune %s: %v", st.BackupDir, err)
		return
	}
	cutoff := m.now().Add(-time.Duration(st.KeepFilesForDays) * 24 * time.Hour)
	var removed []string
	pat := archivePattern(base)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !pat.MatchString(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(st.BackupDir, name)); err != nil {
			m.log.Printf("prune %s: %v", name, err)
			continue
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		m.log.Printf("pruned %d old backups: %s", len(removed), strings.Join(removed, ", "))
	}
}
