package core

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// CleanupCategory is a named, ordered list of glob patterns.
type CleanupCategory struct {
	Name     string
	Patterns []string
}

// Category names used by the default sweep.
const (
	CategoryTemporary      = "temporary"
	CategoryLogs           = "logs"
	CategoryTestArtifacts  = "test_artifacts"
	CategoryBuildArtifacts = "build_artifacts"
	CategoryPackageCaches  = "package_caches"
	CategoryIDEFiles       = "ide_files"
)

// DefaultCleanupCategories is the sweep order used by the cleanup engine.
// Log archival runs between the first category and the rest.
var DefaultCleanupCategories = []CleanupCategory{
	{Name: CategoryTemporary, Patterns: []string{
		"*.tmp", "*.temp", "*.bak", "*.backup", "*.swp", "*.swo", "*~",
		".DS_Store", "Thumbs.db", "desktop.ini",
	}},
	{Name: CategoryLogs, Patterns: []string{
		"*.log", "!.devassist/terminal_logs/*.log",
		"npm-debug.log*", "yarn-debug.log*", "yarn-error.log*", "lerna-debug.log*", "pnpm-debug.log*",
	}},
	{Name: CategoryTestArtifacts, Patterns: []string{
		"coverage/", ".nyc_output/", "test-results/", "*.lcov", ".coverage",
		"htmlcov/", ".pytest_cache/", "__pycache__/", "*.pyc", "*.pyo",
	}},
	{Name: CategoryBuildArtifacts, Patterns: []string{
		"dist/", "build/", "out/", ".next/", ".nuxt/", ".vuepress/dist/",
		".cache/", ".parcel-cache/", "*.min.js.map", "*.min.css.map",
	}},
	{Name: CategoryPackageCaches, Patterns: []string{
		"node_modules/.cache/", ".npm/", ".yarn/cache/", ".pnpm-store/", "bower_components/",
	}},
	{Name: CategoryIDEFiles, Patterns: []string{
		".idea/", ".vscode/settings.json", "*.sublime-workspace", ".history/",
	}},
}

// Directories relative to the project root used by log archival.
const (
	TerminalLogsDir = ".devassist/terminal_logs"
	ArchivedLogsDir = ".devassist/archived_logs"
)

// pruneDirs are never descended into by the sweep.
var pruneDirs = map[string]bool{".git": true, "node_modules": true}

// sourceDirs gate the build-artifact category.
var sourceDirs = []string{"src", "app", "lib"}

// CleanupEngine sweeps transient artifacts out of a project tree.
type CleanupEngine interface {
	// Run sweeps projectRoot. With dryRun it reports what would be removed
	// and performs no filesystem mutations. Per-path failures are collected
	// in the report rather than returned.
	Run(ctx context.Context, projectRoot string, dryRun bool) (*models.CleanupReport, error)
}

// CleanupOptions configures a CleanupEngine. Zero values select defaults.
type CleanupOptions struct {
	Categories            []CleanupCategory
	LogRetention          time.Duration
	GitMaintenance        bool
	RequireSourceForBuild bool
	Git                   GitClient
	Clock                 Clock
	Events                EventLogger
}

type cleanupEngine struct {
	fs      afero.Fs
	matcher *PatternMatcher
	opts    CleanupOptions
}

// NewCleanupEngine creates a CleanupEngine operating on fs.
func NewCleanupEngine(fs afero.Fs, matcher *PatternMatcher, opts CleanupOptions) CleanupEngine {
	if matcher == nil {
		matcher = NewPatternMatcher(nil)
	}
	if opts.Categories == nil {
		opts.Categories = DefaultCleanupCategories
	}
	if opts.LogRetention <= 0 {
		opts.LogRetention = 7 * 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &cleanupEngine{fs: fs, matcher: matcher, opts: opts}
}

// cleanupEntry is one path found by the sweep walk.
type cleanupEntry struct {
	rel   string
	isDir bool
}

// sweep holds the state of one Run.
type sweep struct {
	e       *cleanupEngine
	root    string
	dryRun  bool
	entries []cleanupEntry
	claimed []string
	report  *models.CleanupReport
}

func (e *cleanupEngine) Run(ctx context.Context, projectRoot string, dryRun bool) (*models.CleanupReport, error) {
	info, err := e.fs.Stat(projectRoot)
	if err != nil {
		return nil, &StorageError{Op: "reading project root", Path: projectRoot, Err: err}
	}
	if !info.IsDir() {
		return nil, &StorageError{Op: "reading project root", Path: projectRoot, Err: errors.New("not a directory")}
	}

	s := &sweep{
		e:      e,
		root:   projectRoot,
		dryRun: dryRun,
		report: &models.CleanupReport{DryRun: dryRun, ByCategory: make(map[string]int)},
	}
	s.collect()

	cats := e.opts.Categories
	for i, cat := range cats {
		if err := ctx.Err(); err != nil {
			s.report.Errors = append(s.report.Errors, fmt.Sprintf("cleanup interrupted: %v", err))
			return s.report, err
		}
		if cat.Name == CategoryBuildArtifacts && e.opts.RequireSourceForBuild && !s.hasSourceDir() {
			continue
		}
		s.sweepCategory(cat)
		if i == 0 {
			s.archiveLogs()
		}
	}
	if len(cats) == 0 {
		s.archiveLogs()
	}

	if !dryRun && e.opts.GitMaintenance && e.opts.Git != nil && s.exists(".git") {
		s.maintainGit(ctx)
	}

	// A dry run leaves no trace, not even in the event log.
	if dryRun {
		return s.report, nil
	}
	logEvent(e.opts.Events, "cleanup.completed", map[string]any{
		"files_deleted":  s.report.FilesDeleted,
		"bytes_freed":    s.report.BytesFreed,
		"logs_archived":  s.report.LogsArchived,
		"errors":         len(s.report.Errors),
		"git_maintained": s.report.GitMaintained,
	})
	return s.report, nil
}

// collect walks the tree once, skipping pruned and protected subtrees.
func (s *sweep) collect() {
	_ = afero.Walk(s.e.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			s.report.Errors = append(s.report.Errors, fmt.Sprintf("walking %s: %v", p, err))
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() && (pruneDirs[info.Name()] || !s.e.matcher.IsSafe(rel)) {
			s.entries = append(s.entries, cleanupEntry{rel: rel, isDir: true})
			return filepath.SkipDir
		}
		s.entries = append(s.entries, cleanupEntry{rel: rel, isDir: info.IsDir()})
		return nil
	})
}

func (s *sweep) sweepCategory(cat CleanupCategory) {
	m := s.e.matcher
	for _, pattern := range cat.Patterns {
		if IsNegated(pattern) {
			continue
		}
		dirOnly := IsDirPattern(pattern)
		anchored := IsAnchored(pattern)

		if anchored && !HasWildcard(pattern) {
			rel := strings.TrimSuffix(pattern, "/")
			info, err := s.e.fs.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
			if err != nil || (dirOnly && !info.IsDir()) || (!dirOnly && info.IsDir()) {
				continue
			}
			s.consider(cat.Name, rel, info.IsDir())
			continue
		}

		for _, ent := range s.entries {
			if dirOnly != ent.isDir {
				continue
			}
			var matched bool
			if anchored {
				matched = m.MatchesPath(ent.rel, pattern)
			} else {
				matched = m.Matches(path.Base(ent.rel), pattern)
			}
			if matched {
				s.consider(cat.Name, ent.rel, ent.isDir)
			}
		}
	}
}

// consider deletes, or in a dry run records, one matched path.
func (s *sweep) consider(category, rel string, isDir bool) {
	if s.isClaimed(rel) || !s.e.matcher.IsSafe(rel) {
		return
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	size := s.sizeOf(abs, isDir)

	if !s.dryRun {
		var err error
		if isDir {
			err = s.e.fs.RemoveAll(abs)
		} else {
			err = s.e.fs.Remove(abs)
		}
		if err != nil {
			s.report.Errors = append(s.report.Errors, fmt.Sprintf("removing %s: %v", rel, err))
			return
		}
	}

	s.claimed = append(s.claimed, rel)
	s.report.FilesDeleted++
	s.report.BytesFreed += size
	s.report.Paths = append(s.report.Paths, rel)
	s.report.ByCategory[category]++
}

func (s *sweep) isClaimed(rel string) bool {
	for _, c := range s.claimed {
		if rel == c || strings.HasPrefix(rel, c+"/") {
			return true
		}
	}
	return false
}

func (s *sweep) sizeOf(abs string, isDir bool) int64 {
	if !isDir {
		info, err := s.e.fs.Stat(abs)
		if err != nil {
			return 0
		}
		return info.Size()
	}
	var total int64
	_ = afero.Walk(s.e.fs, abs, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// archiveLogs compresses terminal logs older than the retention window into
// the archive directory and removes the originals.
func (s *sweep) archiveLogs() {
	dir := filepath.Join(s.root, filepath.FromSlash(TerminalLogsDir))
	infos, err := afero.ReadDir(s.e.fs, dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.report.Errors = append(s.report.Errors, fmt.Sprintf("reading %s: %v", TerminalLogsDir, err))
		}
		return
	}

	cutoff := s.e.opts.Clock.Now().Add(-s.e.opts.LogRetention)
	archiveDir := filepath.Join(s.root, filepath.FromSlash(ArchivedLogsDir))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".log") || !info.ModTime().Before(cutoff) {
			continue
		}
		if s.dryRun {
			s.report.LogsArchived++
			continue
		}
		src := filepath.Join(dir, info.Name())
		if err := s.e.compressLog(src, archiveDir, info); err != nil {
			s.report.Errors = append(s.report.Errors, err.Error())
			continue
		}
		s.report.LogsArchived++
	}
}

func (e *cleanupEngine) compressLog(src, archiveDir string, info os.FileInfo) (err error) {
	fail := func(cause error) error {
		return &ExternalToolError{Tool: "gzip", Args: []string{src}, Err: cause}
	}

	if err := e.fs.MkdirAll(archiveDir, 0o755); err != nil {
		return fail(err)
	}
	dst := filepath.Join(archiveDir, info.Name()+".gz")
	if ok, _ := afero.Exists(e.fs, dst); ok {
		dst = filepath.Join(archiveDir, fmt.Sprintf("%s.%d.gz", info.Name(), e.opts.Clock.Now().Unix()))
	}
	tmp := dst + ".tmp"

	in, err := e.fs.Open(src)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = in.Close() }()

	out, err := e.fs.Create(tmp)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err != nil {
			_ = e.fs.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(out)
	gz.Name = info.Name()
	gz.ModTime = info.ModTime()
	if _, err = io.Copy(gz, in); err != nil {
		_ = out.Close()
		return fail(err)
	}
	if err = gz.Close(); err != nil {
		_ = out.Close()
		return fail(err)
	}
	if err = out.Close(); err != nil {
		return fail(err)
	}
	if err = e.fs.Rename(tmp, dst); err != nil {
		return fail(err)
	}
	if err = e.fs.Remove(src); err != nil {
		return fail(err)
	}
	return nil
}

func (s *sweep) maintainGit(ctx context.Context) {
	if err := s.e.opts.Git.PruneRemote(ctx); err != nil {
		s.report.Errors = append(s.report.Errors, err.Error())
		logEvent(s.e.opts.Events, "external.failed", map[string]any{"step": "git remote prune", "error": err.Error()})
	}
	if err := s.e.opts.Git.GC(ctx); err != nil {
		s.report.Errors = append(s.report.Errors, err.Error())
		logEvent(s.e.opts.Events, "external.failed", map[string]any{"step": "git gc", "error": err.Error()})
		return
	}
	s.report.GitMaintained = true
}

func (s *sweep) hasSourceDir() bool {
	for _, d := range sourceDirs {
		if ok, _ := afero.DirExists(s.e.fs, filepath.Join(s.root, d)); ok {
			return true
		}
	}
	return false
}

func (s *sweep) exists(rel string) bool {
	ok, _ := afero.Exists(s.e.fs, filepath.Join(s.root, rel))
	return ok
}
