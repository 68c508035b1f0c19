package apphost

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ModuleRecord describes one watched code file observed by a scan.
type ModuleRecord struct {
	// Path is the absolute file path.
	Path string

	// Reload is true when the module was seen before and its modification
	// time advanced, false when the file is new.
	Reload bool
}

// ModuleName derives the logical module name from the record's path, which
// is the base name with the extension stripped.
func (r ModuleRecord) ModuleName() string {
	return ModuleNameFromPath(r.Path)
}

// ModuleNameFromPath maps a file path onto its logical module name.
func ModuleNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ModuleScan is the result of one code-module scan.
type ModuleScan struct {
	// AddedOrModified holds new and changed module files.
	AddedOrModified []ModuleRecord

	// Deleted holds paths that were monitored last scan but have vanished.
	Deleted []string
}

// Empty reports whether the scan observed no changes.
func (s *ModuleScan) Empty() bool {
	return len(s.AddedOrModified) == 0 && len(s.Deleted) == 0
}

// ConfigScan is the result of one configuration-document scan.
type ConfigScan struct {
	// Latest is the newest modification time seen across all documents.
	Latest time.Time

	// Changed holds documents newer than the previous watermark, plus
	// documents that were not present in the previous listing.
	Changed []string

	// Deleted holds documents present last scan but gone now.
	Deleted []string
}

// Empty reports whether the scan observed no changes.
func (s *ConfigScan) Empty() bool {
	return len(s.Changed) == 0 && len(s.Deleted) == 0
}

// ChangeDetector walks the app directory tree and reports which code modules
// and configuration documents changed since the previous cycle.
//
// Watermark state is committed eagerly, per path visited, matching the
// reference behavior: a path reported changed in one scan will not be
// reported again by the next scan even if the downstream apply failed.
// Callers that need retry semantics must re-trigger the work themselves.
type ChangeDetector struct {
	appDir      string
	moduleExt   string
	excludeDirs map[string]struct{}
	logger      Logger

	// monitored maps module path to its last observed modification time.
	monitored map[string]time.Time

	// configFiles is the previous full document listing, for deletion
	// detection by set difference.
	configFiles map[string]struct{}

	// moduleDirs tracks directories already announced as module roots.
	moduleDirs map[string]struct{}
}

// NewChangeDetector creates a detector over appDir. Module files are matched
// by moduleExt (for example ".so"); directory names in excludeDirs are
// pruned from every walk.
func NewChangeDetector(appDir, moduleExt string, excludeDirs []string, logger Logger) *ChangeDetector {
	excluded := make(map[string]struct{}, len(excludeDirs))
	for _, dir := range excludeDirs {
		excluded[dir] = struct{}{}
	}
	return &ChangeDetector{
		appDir:      appDir,
		moduleExt:   moduleExt,
		excludeDirs: excluded,
		logger:      logger,
		monitored:   make(map[string]time.Time),
		configFiles: make(map[string]struct{}),
		moduleDirs:  make(map[string]struct{}),
	}
}

// Scan walks the tree for code modules and reports files added or modified
// since the previous scan, and files that disappeared. Each reported path's
// watermark is committed as it is visited.
func (d *ChangeDetector) Scan() (*ModuleScan, error) {
	scan := &ModuleScan{}

	found := make(map[string]struct{})
	err := d.walk(func(path string, info fs.FileInfo) {
		if !strings.HasSuffix(path, d.moduleExt) {
			return
		}

		dir := filepath.Dir(path)
		if _, seen := d.moduleDirs[dir]; !seen {
			d.logger.Info("Adding module directory", "dir", dir)
			d.moduleDirs[dir] = struct{}{}
		}

		found[path] = struct{}{}
		modified := info.ModTime()
		last, known := d.monitored[path]
		switch {
		case !known:
			d.logger.Debug("Found module", "path", path)
			scan.AddedOrModified = append(scan.AddedOrModified, ModuleRecord{Path: path, Reload: false})
			d.monitored[path] = modified
		case modified.After(last):
			scan.AddedOrModified = append(scan.AddedOrModified, ModuleRecord{Path: path, Reload: true})
			d.monitored[path] = modified
		}
	})
	if err != nil {
		return nil, err
	}

	for path := range d.monitored {
		if _, ok := found[path]; !ok {
			scan.Deleted = append(scan.Deleted, path)
		}
	}
	sort.Strings(scan.Deleted)
	for _, path := range scan.Deleted {
		d.logger.Info("Removing module", "path", path)
		delete(d.monitored, path)
	}

	sort.Slice(scan.AddedOrModified, func(i, j int) bool {
		return scan.AddedOrModified[i].Path < scan.AddedOrModified[j].Path
	})

	return scan, nil
}

// MarkAllDeleted reports every monitored module as deleted and clears the
// watch state. Used at shutdown so every app is terminated.
func (d *ChangeDetector) MarkAllDeleted() *ModuleScan {
	scan := &ModuleScan{}
	for path := range d.monitored {
		scan.Deleted = append(scan.Deleted, path)
	}
	sort.Strings(scan.Deleted)
	d.monitored = make(map[string]time.Time)
	return scan
}

// MonitoredModules returns the currently watched module paths, sorted.
func (d *ChangeDetector) MonitoredModules() []string {
	paths := make([]string, 0, len(d.monitored))
	for path := range d.monitored {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// PathForModule returns the monitored file backing the given logical module
// name, or false when no monitored file matches.
func (d *ChangeDetector) PathForModule(module string) (string, bool) {
	for _, path := range d.MonitoredModules() {
		if ModuleNameFromPath(path) == module {
			return path, true
		}
	}
	return "", false
}

// ScanConfigs walks the tree for configuration documents and reports those
// modified after lastWatermark, those new since the previous listing, and
// those deleted. The returned Latest is the new watermark.
func (d *ChangeDetector) ScanConfigs(lastWatermark time.Time) (*ConfigScan, error) {
	scan := &ConfigScan{Latest: lastWatermark}

	listing := make(map[string]struct{})
	firstScan := len(d.configFiles) == 0
	err := d.walk(func(path string, info fs.FileInfo) {
		if !isConfigDocument(path) {
			return
		}
		listing[path] = struct{}{}

		ts := info.ModTime()
		if ts.After(lastWatermark) {
			scan.Changed = append(scan.Changed, path)
		} else if !firstScan {
			if _, known := d.configFiles[path]; !known {
				// New document with an old timestamp, e.g. moved into place.
				scan.Changed = append(scan.Changed, path)
			}
		}
		if ts.After(scan.Latest) {
			scan.Latest = ts
		}
	})
	if err != nil {
		return nil, err
	}

	for path := range d.configFiles {
		if _, ok := listing[path]; !ok {
			scan.Deleted = append(scan.Deleted, path)
		}
	}
	sort.Strings(scan.Changed)
	sort.Strings(scan.Deleted)

	d.configFiles = listing
	return scan, nil
}

// walk visits every regular file under the app directory, pruning excluded
// and artifact directories.
func (d *ChangeDetector) walk(visit func(path string, info fs.FileInfo)) error {
	return filepath.WalkDir(d.appDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// A file may vanish mid-walk; skip it and let the set difference
			// report the deletion next scan.
			d.logger.Warn("Unable to read path - skipping", "path", path, "error", err)
			return nil
		}
		if entry.IsDir() {
			if path != d.appDir {
				if _, excluded := d.excludeDirs[entry.Name()]; excluded {
					return filepath.SkipDir
				}
				if isArtifactDir(entry.Name()) {
					return filepath.SkipDir
				}
			}
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("Unable to stat file - skipping", "path", path, "error", err)
			return nil
		}
		visit(path, info)
		return nil
	})
}
