package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hawkeye-pipeline/internal/config"
	"hawkeye-pipeline/internal/model"

	"go.uber.org/zap"
)

const (
	worksPrefix = "works_"
	runsDir     = "runs"
)

// DiscoverOptions locate the workspace to walk.
type DiscoverOptions struct {
	Base     string // workspace base, e.g. /prjs
	Project  string // project (top) name under Base
	Detailed bool   // also check job/task presence; requires Config
	Config   *config.Config
	Logger   *zap.Logger
}

// Discover lists run directories laid out as
// {base}/{project}/works_{user}/{block}/{dk_ver_tag}/runs/{run_version}.
// It never opens report files. A missing root yields no runs.
func Discover(ctx context.Context, opts DiscoverOptions) ([]model.ExecutionRef, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	root := filepath.Join(opts.Base, opts.Project)
	baseDir := filepath.Base(filepath.Clean(opts.Base))

	works, err := os.ReadDir(root)
	if err != nil {
		logger.Debug("workspace root not readable", zap.String("root", root), zap.Error(err))
		return []model.ExecutionRef{}, nil
	}

	refs := []model.ExecutionRef{}
	for _, w := range works {
		if !strings.HasPrefix(w.Name(), worksPrefix) || !dirEntryIsDir(root, w) {
			continue
		}
		user := strings.TrimPrefix(w.Name(), worksPrefix)
		worksPath := filepath.Join(root, w.Name())

		for _, block := range subdirs(worksPath, logger) {
			blockPath := filepath.Join(worksPath, block)
			for _, tag := range subdirs(blockPath, logger) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				runsPath := filepath.Join(blockPath, tag, runsDir)
				if !isDir(runsPath) {
					continue
				}
				for _, version := range subdirs(runsPath, logger) {
					runPath := filepath.Join(runsPath, version)
					rel, err := filepath.Rel(opts.Base, runPath)
					if err != nil {
						rel = runPath
					}
					ref := model.ExecutionRef{
						Path:       runPath,
						RelPath:    rel,
						BaseDir:    baseDir,
						TopName:    opts.Project,
						User:       user,
						Block:      block,
						DKVerTag:   tag,
						RunVersion: version,
					}
					if opts.Detailed && opts.Config != nil {
						ref.Jobs = JobPresenceFor(runPath, opts.Config)
					}
					refs = append(refs, ref)
				}
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.User != b.User {
			return a.User < b.User
		}
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		if a.DKVerTag != b.DKVerTag {
			return a.DKVerTag < b.DKVerTag
		}
		return a.RunVersion < b.RunVersion
	})
	logger.Debug("discovery finished", zap.String("root", root), zap.Int("runs", len(refs)))
	return refs, nil
}

// FindExecution resolves a run by version label or by path.
func FindExecution(refs []model.ExecutionRef, target string) (model.ExecutionRef, bool) {
	clean := filepath.Clean(target)
	for _, r := range refs {
		if r.RunVersion == target || r.Path == clean || r.RelPath == clean {
			return r, true
		}
	}
	return model.ExecutionRef{}, false
}

// ParseRunPath derives a run's identity from a path laid out like the
// workspace. It reports false when path does not end in
// works_{user}/{block}/{dk_ver_tag}/runs/{run_version}.
func ParseRunPath(path string) (model.ExecutionRef, bool) {
	clean := filepath.Clean(path)
	parts := strings.Split(filepath.ToSlash(clean), "/")
	n := len(parts)
	if n < 6 || parts[n-2] != runsDir || !strings.HasPrefix(parts[n-5], worksPrefix) {
		return model.ExecutionRef{}, false
	}
	ref := model.ExecutionRef{
		Path:       clean,
		RelPath:    clean,
		TopName:    parts[n-6],
		User:       strings.TrimPrefix(parts[n-5], worksPrefix),
		Block:      parts[n-4],
		DKVerTag:   parts[n-3],
		RunVersion: parts[n-1],
	}
	if n >= 7 {
		ref.BaseDir = parts[n-7]
	}
	return ref, ref.User != "" && ref.RunVersion != ""
}

// JobPresenceFor checks which configured jobs exist under runPath and
// which of their tasks left any log or report behind. Job directories that
// are not configured are listed too.
func JobPresenceFor(runPath string, cfg *config.Config) []model.JobPresence {
	var out []model.JobPresence
	for _, name := range cfg.Jobs.Keys {
		job := cfg.Jobs.Values[name]
		jobPath := filepath.Join(runPath, name)
		p := model.JobPresence{Name: name, Configured: true, Tasks: []string{}}
		if isDir(jobPath) {
			p.Exists = true
			p.Path = jobPath
			for _, task := range job.Tasks {
				t, ok := cfg.Task(task)
				if ok && anySourceExists(jobPath, t.FilePatterns()) {
					p.Tasks = append(p.Tasks, task)
				}
			}
		} else {
			p.Tasks = append(p.Tasks, job.Tasks...)
		}
		out = append(out, p)
	}

	entries, err := os.ReadDir(runPath)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if cfg.Jobs.Has(e.Name()) || !dirEntryIsDir(runPath, e) {
			continue
		}
		out = append(out, model.JobPresence{
			Name:   e.Name(),
			Path:   filepath.Join(runPath, e.Name()),
			Exists: true,
			Tasks:  []string{},
		})
	}
	return out
}

func subdirs(path string, logger *zap.Logger) []string {
	entries, err := os.ReadDir(path)
	if err != nil {
		logger.Debug("skipping unreadable directory", zap.String("path", path), zap.Error(err))
		return nil
	}
	var out []string
	for _, e := range entries {
		if dirEntryIsDir(path, e) {
			out = append(out, e.Name())
		}
	}
	return out
}

// dirEntryIsDir follows symlinks, which DirEntry.IsDir does not.
func dirEntryIsDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink != 0 {
		return isDir(filepath.Join(parent, e.Name()))
	}
	return false
}
