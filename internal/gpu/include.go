package gpu

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/devinfo/internal/config"
	"github.com/fxnlabs/devinfo/internal/metrics"
	"go.uber.org/zap"
)

// IncludeResolver locates the CUDA toolkit header directory.
//
// Candidates are, in order: the override environment variable, each toolkit
// home environment variable, then the conventional search paths. A candidate
// matches when it contains the header directly or in its include subdirectory.
// A successful result is kept for the life of the resolver; a failed search is
// repeated on the next call.
type IncludeResolver struct {
	overrideEnv string
	homeEnvs    []string
	searchPaths []string
	header      string
	lookupEnv   func(string) (string, bool)
	fileExists  func(string) bool
	logger      *zap.Logger

	mu       sync.Mutex
	resolved atomic.Pointer[string]
}

// ResolverOption configures an IncludeResolver
type ResolverOption func(*IncludeResolver)

// WithOverrideEnv sets the variable naming an explicit include directory
func WithOverrideEnv(name string) ResolverOption {
	return func(r *IncludeResolver) { r.overrideEnv = name }
}

// WithHomeEnvs sets the variables naming toolkit install roots
func WithHomeEnvs(names ...string) ResolverOption {
	return func(r *IncludeResolver) { r.homeEnvs = names }
}

// WithSearchPaths sets the conventional install locations probed last
func WithSearchPaths(paths ...string) ResolverOption {
	return func(r *IncludeResolver) { r.searchPaths = paths }
}

// WithHeader sets the header file a candidate must contain
func WithHeader(name string) ResolverOption {
	return func(r *IncludeResolver) { r.header = name }
}

// WithEnvLookup replaces os.LookupEnv
func WithEnvLookup(lookup func(string) (string, bool)) ResolverOption {
	return func(r *IncludeResolver) { r.lookupEnv = lookup }
}

// WithFileCheck replaces the regular-file existence check
func WithFileCheck(exists func(string) bool) ResolverOption {
	return func(r *IncludeResolver) { r.fileExists = exists }
}

// WithResolverLogger sets the logger used for search results
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *IncludeResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewIncludeResolver creates a resolver with the default search configuration
func NewIncludeResolver(opts ...ResolverOption) *IncludeResolver {
	defaults := config.Default().Toolkit
	r := &IncludeResolver{
		overrideEnv: defaults.IncludeDirEnv,
		homeEnvs:    defaults.HomeEnvs,
		searchPaths: defaults.SearchPaths,
		header:      defaults.Header,
		lookupEnv:   os.LookupEnv,
		fileExists:  regularFileExists,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewIncludeResolverFromConfig creates a resolver searching the locations in cfg
func NewIncludeResolverFromConfig(cfg config.ToolkitConfig, opts ...ResolverOption) *IncludeResolver {
	base := []ResolverOption{
		WithOverrideEnv(cfg.IncludeDirEnv),
		WithHomeEnvs(cfg.HomeEnvs...),
		WithSearchPaths(cfg.SearchPaths...),
	}
	if cfg.Header != "" {
		base = append(base, WithHeader(cfg.Header))
	}
	return NewIncludeResolver(append(base, opts...)...)
}

// Resolve returns the header directory, or "" when none is found and required is false
func (r *IncludeResolver) Resolve(required bool) (string, error) {
	if p := r.resolved.Load(); p != nil {
		return *p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.resolved.Load(); p != nil {
		return *p, nil
	}

	path, searched := r.search()
	if path == "" {
		metrics.IncludeDirResolutions.WithLabelValues(metrics.OutcomeNotFound).Inc()
		r.logger.Debug("toolkit include directory not found",
			zap.String("header", r.header),
			zap.Strings("searched", searched),
			zap.Bool("required", required))
		if required {
			return "", &ConfigurationError{Header: r.header, Searched: searched}
		}
		return "", nil
	}

	metrics.IncludeDirResolutions.WithLabelValues(metrics.OutcomeFound).Inc()
	r.logger.Debug("toolkit include directory found", zap.String("path", path))
	r.resolved.Store(&path)
	return path, nil
}

func (r *IncludeResolver) candidates() []string {
	var dirs []string
	envs := append([]string{r.overrideEnv}, r.homeEnvs...)
	for _, env := range envs {
		if env == "" {
			continue
		}
		if v, ok := r.lookupEnv(env); ok && v != "" {
			dirs = append(dirs, v)
		}
	}
	return append(dirs, r.searchPaths...)
}

// search returns the first matching directory and every directory it probed
func (r *IncludeResolver) search() (string, []string) {
	var searched []string
	for _, dir := range r.candidates() {
		for _, inc := range []string{dir, filepath.Join(dir, "include")} {
			searched = append(searched, inc)
			if r.fileExists(filepath.Join(inc, r.header)) {
				return inc, searched
			}
		}
	}
	return "", searched
}

func regularFileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
