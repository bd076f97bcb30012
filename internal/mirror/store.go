// Package mirror keeps the on-disk copies of posts (a front-matter .mdx file
// and a .json sidecar per slug) in step with the database.
//
// Mirrors are a derived cache. No operation here returns an error: every file
// step is recorded in a Result and logged, and BulkResync rebuilds everything.
package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	TextExt = ".mdx"
	JSONExt = ".json"

	DefaultContentDir = "content/posts"
	DefaultJSONDir    = "content/posts-json"
)

// ErrUnsafeSlug is recorded when a slug cannot be used as a file name.
var ErrUnsafeSlug = errors.New("slug is not a safe file name")

// Op names one file step.
type Op string

const (
	OpMkdir      Op = "mkdir"
	OpWriteText  Op = "write-text"
	OpWriteJSON  Op = "write-json"
	OpRenameText Op = "rename-text"
	OpRemoveText Op = "remove-text"
	OpRemoveJSON Op = "remove-json"
)

// Outcome is the result of a single file step.
type Outcome struct {
	Op   Op
	Path string
	Err  error
}

// Result collects the outcomes of one mirror operation.
type Result struct {
	Slug     string
	Outcomes []Outcome
}

// OK reports whether every step succeeded.
func (r Result) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failed steps.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded reports whether a step of kind op ran and succeeded.
func (r Result) Succeeded(op Op) bool {
	ran := false
	for _, o := range r.Outcomes {
		if o.Op != op {
			continue
		}
		if o.Err != nil {
			return false
		}
		ran = true
	}
	return ran
}

func (r *Result) record(op Op, path string, err error) bool {
	r.Outcomes = append(r.Outcomes, Outcome{Op: op, Path: path, Err: err})
	return err == nil
}

// SyncReport summarises a BulkResync run.
type SyncReport struct {
	Total       int      `json:"total"`
	Written     int      `json:"written"`
	JSONWritten int      `json:"jsonWritten"`
	Dir         string   `json:"dir"`
	JSONDir     string   `json:"jsonDir"`
	Failed      []string `json:"failed,omitempty"`
}

// Config locates the mirror directories.
type Config struct {
	ContentDir string
	JSONDir    string
}

// Store writes mirror artifacts.
type Store struct {
	contentDir string
	jsonDir    string
	fs         FileSystem
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFileSystem replaces the OS file system.
func WithFileSystem(fsys FileSystem) Option {
	return func(s *Store) {
		s.fs = fsys
	}
}

// WithLogger sets the logger used for step outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store. Empty directories fall back to the defaults.
func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		contentDir: strings.TrimSpace(cfg.ContentDir),
		jsonDir:    strings.TrimSpace(cfg.JSONDir),
		fs:         OSFileSystem{},
		logger:     slog.Default(),
	}
	if s.contentDir == "" {
		s.contentDir = DefaultContentDir
	}
	if s.jsonDir == "" {
		s.jsonDir = DefaultJSONDir
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContentDir returns the directory of the front-matter files.
func (s *Store) ContentDir() string { return s.contentDir }

// JSONDir returns the directory of the JSON sidecars.
func (s *Store) JSONDir() string { return s.jsonDir }

// TextPath returns the front-matter file path for slug.
func (s *Store) TextPath(slug string) string {
	return filepath.Join(s.contentDir, slug+TextExt)
}

// JSONPath returns the sidecar path for slug.
func (s *Store) JSONPath(slug string) string {
	return filepath.Join(s.jsonDir, slug+JSONExt)
}

// OnCreate writes both artifacts for a new post.
func (s *Store) OnCreate(doc Document) Result {
	res := Result{Slug: doc.Slug}
	if s.checkSlug(&res, doc.Slug) {
		s.ensureDirs(&res)
		s.writeText(&res, doc)
		s.writeJSON(&res, doc)
	}
	s.report("create", res)
	return res
}

// OnUpdate rewrites the artifacts of an updated post. When the slug changed,
// files already sitting at the new path are replaced, the old text file is
// moved to the new path and the old sidecar is deleted.
func (s *Store) OnUpdate(oldSlug string, doc Document) Result {
	res := Result{Slug: doc.Slug}
	if !s.checkSlug(&res, doc.Slug) {
		s.report("update", res)
		return res
	}
	s.ensureDirs(&res)

	if oldSlug == "" || oldSlug == doc.Slug {
		s.writeText(&res, doc)
		s.writeJSON(&res, doc)
		s.report("update", res)
		return res
	}

	if !s.checkSlug(&res, oldSlug) {
		s.writeText(&res, doc)
		s.writeJSON(&res, doc)
		s.report("rename", res)
		return res
	}

	newText := s.TextPath(doc.Slug)
	oldText := s.TextPath(oldSlug)

	s.remove(&res, OpRemoveText, newText)
	s.remove(&res, OpRemoveJSON, s.JSONPath(doc.Slug))

	moved := false
	if s.exists(oldText) {
		moved = res.record(OpRenameText, oldText, s.fs.Rename(oldText, newText))
	}
	s.remove(&res, OpRemoveJSON, s.JSONPath(oldSlug))

	s.writeText(&res, doc)
	s.writeJSON(&res, doc)

	if !moved && s.exists(oldText) {
		s.remove(&res, OpRemoveText, oldText)
	}

	s.report("rename", res)
	return res
}

// OnDelete removes both artifacts for slug. Missing files are not failures.
func (s *Store) OnDelete(slug string) Result {
	res := Result{Slug: slug}
	if s.checkSlug(&res, slug) {
		s.remove(&res, OpRemoveText, s.TextPath(slug))
		s.remove(&res, OpRemoveJSON, s.JSONPath(slug))
	}
	s.report("delete", res)
	return res
}

// BulkResync rewrites both artifacts for every document. A failure on one
// document does not stop the others.
func (s *Store) BulkResync(docs []Document) SyncReport {
	report := SyncReport{
		Total:   len(docs),
		Dir:     s.contentDir,
		JSONDir: s.jsonDir,
	}

	dirs := Result{}
	s.ensureDirs(&dirs)
	if !dirs.OK() {
		s.report("resync", dirs)
	}

	for _, doc := range docs {
		res := Result{Slug: doc.Slug}
		if s.checkSlug(&res, doc.Slug) {
			s.writeText(&res, doc)
			s.writeJSON(&res, doc)
		}
		if res.Succeeded(OpWriteText) {
			report.Written++
		}
		if res.Succeeded(OpWriteJSON) {
			report.JSONWritten++
		}
		if !res.OK() {
			report.Failed = append(report.Failed, doc.Slug)
			s.report("resync", res)
		}
	}

	s.logger.Info("mirror resync finished",
		"total", report.Total,
		"written", report.Written,
		"json_written", report.JSONWritten,
		"dir", report.Dir,
		"json_dir", report.JSONDir,
	)
	return report
}

func (s *Store) checkSlug(res *Result, slug string) bool {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) || strings.ContainsRune(slug, 0) {
		res.record(OpWriteText, slug, fmt.Errorf("%w: %q", ErrUnsafeSlug, slug))
		return false
	}
	return true
}

func (s *Store) ensureDirs(res *Result) {
	for _, dir := range []string{s.contentDir, s.jsonDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			res.record(OpMkdir, dir, err)
		}
	}
}

func (s *Store) writeText(res *Result, doc Document) {
	path := s.TextPath(doc.Slug)
	res.record(OpWriteText, path, s.writeAtomic(path, RenderText(doc)))
}

func (s *Store) writeJSON(res *Result, doc Document) {
	path := s.JSONPath(doc.Slug)
	data, err := RenderJSON(doc)
	if err == nil {
		err = s.writeAtomic(path, data)
	}
	res.record(OpWriteJSON, path, err)
}

// writeAtomic writes to a temporary sibling and renames it over path.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) remove(res *Result, op Op, path string) {
	err := s.fs.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	res.record(op, path, err)
}

func (s *Store) exists(path string) bool {
	_, err := s.fs.Stat(path)
	return err == nil
}

func (s *Store) report(action string, res Result) {
	failed := res.Failed()
	if len(failed) == 0 {
		s.logger.Debug("mirror synced", "action", action, "slug", res.Slug, "steps", len(res.Outcomes))
		return
	}
	for _, o := range failed {
		s.logger.Warn("mirror step failed",
			"action", action,
			"slug", res.Slug,
			"op", string(o.Op),
			"path", o.Path,
			"error", o.Err,
		)
	}
}
