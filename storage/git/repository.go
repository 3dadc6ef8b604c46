// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path"
	"slices"
	"sync"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
)

const (
	defaultAuthorName  = "Archivist"
	defaultAuthorEmail = "archivist@localhost"
	defaultBranch      = "main"
)

// Config holds the settings of a git-backed repository.
type Config struct {
	// Path is the directory of the git repository. It is created when missing.
	// An empty path keeps the repository in memory.
	Path string

	// AuthorName and AuthorEmail sign every commit.
	AuthorName  string
	AuthorEmail string

	// DefaultBranch is the branch created when initializing a new repository.
	DefaultBranch string
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// Repository stores records as commits of a git repository.
// Each (serviceId, documentType) lineage is one file, each accepted record
// one commit changing it, and record attributes live in commit trailers.
//
// The worktree is shared mutable state: writes hold an exclusive lock
// while reads only hold it long enough to resolve commits.
type Repository struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	repo *gogit.Repository
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a git-backed repository. Call Initialize before use.
func NewRepository(cfg Config, opts ...Option) (storage.Repository, error) {
	return newRepository(cfg, opts...), nil
}

func newRepository(cfg Config, opts ...Option) *Repository {
	if cfg.AuthorName == "" {
		cfg.AuthorName = defaultAuthorName
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = defaultAuthorEmail
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = defaultBranch
	}
	r := &Repository{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize opens the git repository, creating it when missing.
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := r.open()
	if err != nil {
		return fmt.Errorf("open git repository %q: %w", r.cfg.Path, err)
	}
	r.repo = repo
	r.logger.Debug("git repository ready", "path", r.cfg.Path)
	return nil
}

// Finalize releases the repository.
func (r *Repository) Finalize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repo = nil
	return nil
}

func (r *Repository) open() (*gogit.Repository, error) {
	initOpts := gogit.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName(r.cfg.DefaultBranch),
	}
	if r.cfg.Path == "" {
		return gogit.InitWithOptions(memory.NewStorage(), memfs.New(), initOpts)
	}

	if err := os.MkdirAll(r.cfg.Path, 0755); err != nil {
		return nil, err
	}
	repo, err := gogit.PlainOpen(r.cfg.Path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return gogit.PlainInitWithOptions(r.cfg.Path, &gogit.PlainInitOptions{InitOptions: initOpts})
	}
	return repo, err
}

// Save commits record unless the latest record of its lineage holds the same content.
func (r *Repository) Save(ctx context.Context, record *core.Record) (*core.Record, error) {
	if err := core.ValidateRecord(record); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, storage.ErrNotInitialized
	}

	head, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	var tree *object.Tree
	if head != nil {
		if tree, err = head.Tree(); err != nil {
			return nil, err
		}
	}

	filePath := lineagePath(record.ServiceID, record.DocumentType, record.MimeType)
	existing, err := lineageFiles(tree, record.ServiceID, record.DocumentType)
	if err != nil {
		return nil, err
	}

	content := record.Content
	if content == nil {
		content = []byte{}
	}

	latestCommit, latest, err := r.latest(ctx, record.ServiceID, record.DocumentType)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.MimeType == record.MimeType {
		current, err := readCommitContent(latestCommit, latest)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(current, content) {
			r.logger.Debug("content unchanged, skipping", "lineage", record.Lineage(), "fetchDate", record.FetchDate)
			return nil, nil
		}
	}

	saved := record.Clone()
	saved.Content = content
	saved.IsFirstRecord = record.IsFirstRecord || latest == nil

	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, err
	}

	if err := stage(wt, filePath, content, existing); err != nil {
		r.rollback(wt, head, filePath)
		return nil, fmt.Errorf("stage %s: %w", filePath, err)
	}

	sig := &object.Signature{
		Name:  r.cfg.AuthorName,
		Email: r.cfg.AuthorEmail,
		When:  record.FetchDate,
	}
	// An older fetch date can match the file at HEAD, leaving nothing to stage.
	hash, err := wt.Commit(commitMessage(saved), &gogit.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.rollback(wt, head, filePath)
		return nil, fmt.Errorf("commit %s: %w", filePath, err)
	}

	saved.ID = core.ID(hash.String())
	r.logger.Debug("record committed", "id", saved.ID, "lineage", saved.Lineage(), "first", saved.IsFirstRecord)
	return saved, nil
}

// stage writes content to filePath and removes the lineage's files stored
// under another extension.
func stage(wt *gogit.Worktree, filePath string, content []byte, existing []string) error {
	if err := util.WriteFile(wt.Filesystem, filePath, content, 0644); err != nil {
		return err
	}
	if _, err := wt.Add(filePath); err != nil {
		return err
	}
	for _, old := range existing {
		if old == filePath {
			continue
		}
		if _, err := wt.Remove(old); err != nil {
			return err
		}
	}
	return nil
}

// rollback restores the worktree to head after a failed write.
func (r *Repository) rollback(wt *gogit.Worktree, head *object.Commit, filePath string) {
	if head != nil {
		if err := wt.Reset(&gogit.ResetOptions{Commit: head.Hash, Mode: gogit.HardReset}); err != nil {
			r.logger.Error("error resetting worktree", "err", err)
		}
		return
	}
	if _, err := wt.Remove(filePath); err != nil {
		r.logger.Debug("error unstaging file", "path", filePath, "err", err)
	}
	if err := util.RemoveAll(wt.Filesystem, filePath); err != nil {
		r.logger.Error("error removing file", "path", filePath, "err", err)
	}
}

// FindLatestByServiceIDAndDocumentType returns the lineage record with the
// latest fetch date.
func (r *Repository) FindLatestByServiceIDAndDocumentType(ctx context.Context, serviceID, documentType string, opts ...storage.ReadOption) (*core.Record, error) {
	o := storage.ApplyReadOptions(opts...)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, storage.ErrNotInitialized
	}

	commit, latest, err := r.latest(ctx, serviceID, documentType)
	if err != nil || latest == nil {
		return nil, err
	}

	if !o.DeferContent {
		if latest.Content, err = readCommitContent(commit, latest); err != nil {
			return nil, err
		}
	}
	return latest, nil
}

// FindByID returns the record stored by the commit with the given hash.
func (r *Repository) FindByID(ctx context.Context, id core.ID, opts ...storage.ReadOption) (*core.Record, error) {
	o := storage.ApplyReadOptions(opts...)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, storage.ErrNotInitialized
	}

	commit, record, err := r.resolve(id)
	if err != nil || record == nil {
		return nil, err
	}

	if !o.DeferContent {
		if record.Content, err = readCommitContent(commit, record); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// FindAll returns every record ordered by fetch date.
func (r *Repository) FindAll(ctx context.Context, opts ...storage.ReadOption) ([]*core.Record, error) {
	return storage.Collect(r.Iterate(ctx, opts...))
}

// Count returns the number of record commits.
func (r *Repository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return 0, storage.ErrNotInitialized
	}

	count := 0
	err := r.walk(ctx, func(*object.Commit, *core.Record) error {
		count++
		return nil
	})
	return count, err
}

// Iterate yields every record ordered by fetch date. Commit metadata is
// resolved up front; content is read as each record is yielded. The lock is
// never held while yielding, so callers may save from the loop body.
func (r *Repository) Iterate(ctx context.Context, opts ...storage.ReadOption) iter.Seq2[*core.Record, error] {
	o := storage.ApplyReadOptions(opts...)

	return func(yield func(*core.Record, error) bool) {
		entries, err := r.history(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !o.DeferContent {
				r.mu.RLock()
				content, err := readCommitContent(e.commit, e.record)
				r.mu.RUnlock()
				if err != nil {
					yield(nil, err)
					return
				}
				e.record.Content = content
			}
			if !yield(e.record, nil) {
				return
			}
		}
	}
}

type historyEntry struct {
	commit *object.Commit
	record *core.Record
}

// history returns the records of HEAD's history ordered by fetch date, then commit order.
func (r *Repository) history(ctx context.Context) ([]historyEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, storage.ErrNotInitialized
	}

	var entries []historyEntry
	err := r.walk(ctx, func(c *object.Commit, record *core.Record) error {
		entries = append(entries, historyEntry{commit: c, record: record})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(entries)
	slices.SortStableFunc(entries, func(a, b historyEntry) int {
		return a.record.FetchDate.Compare(b.record.FetchDate)
	})
	return entries, nil
}

// RemoveAll deletes the repository and starts a new, empty one.
func (r *Repository) RemoveAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return storage.ErrNotInitialized
	}

	if r.cfg.Path != "" {
		if err := os.RemoveAll(r.cfg.Path); err != nil {
			return fmt.Errorf("remove %s: %w", r.cfg.Path, err)
		}
	}
	repo, err := r.open()
	if err != nil {
		return err
	}
	r.repo = repo
	r.logger.Info("git repository reset", "path", r.cfg.Path)
	return nil
}

// LoadRecordContent reads the lineage file as of the record's commit.
func (r *Repository) LoadRecordContent(ctx context.Context, record *core.Record) (*core.Record, error) {
	if record == nil || record.ID.IsZero() {
		return nil, storage.ErrMissingID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, storage.ErrNotInitialized
	}

	commit, stored, err := r.resolve(record.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, record.ID)
	}

	content, err := readCommitContent(commit, stored)
	if err != nil {
		return nil, err
	}
	return record.WithLoadedContent(content), nil
}

// headCommit returns the commit HEAD points to, or nil for an empty repository.
// Must be called with lock held.
func (r *Repository) headCommit() (*object.Commit, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.repo.CommitObject(ref.Hash())
}

// walk calls fn for every record commit reachable from HEAD, newest first.
// Must be called with lock held.
func (r *Repository) walk(ctx context.Context, fn func(*object.Commit, *core.Record) error) error {
	head, err := r.headCommit()
	if err != nil || head == nil {
		return err
	}

	commits, err := r.repo.Log(&gogit.LogOptions{From: head.Hash})
	if err != nil {
		return err
	}
	defer commits.Close()

	return commits.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, ok, err := parseCommitMessage(c.Message)
		if err != nil {
			r.logger.Warn("skipping commit with malformed trailers", "commit", c.Hash.String(), "err", err)
			return nil
		}
		if !ok {
			return nil
		}
		record.ID = core.ID(c.Hash.String())
		return fn(c, record)
	})
}

// latest returns the lineage record with the greatest fetch date, the most
// recent commit winning ties. Must be called with lock held.
func (r *Repository) latest(ctx context.Context, serviceID, documentType string) (*object.Commit, *core.Record, error) {
	var (
		commit *object.Commit
		latest *core.Record
	)
	err := r.walk(ctx, func(c *object.Commit, record *core.Record) error {
		if record.ServiceID != serviceID || record.DocumentType != documentType {
			return nil
		}
		if latest == nil || record.FetchDate.After(latest.FetchDate) {
			latest, commit = record, c
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return commit, latest, nil
}

// resolve finds the commit with the given hash and decodes its record.
// Returns nil values when no such record commit exists. Must be called with lock held.
func (r *Repository) resolve(id core.ID) (*object.Commit, *core.Record, error) {
	if !plumbing.IsHash(id.String()) {
		return nil, nil, nil
	}
	commit, err := r.repo.CommitObject(plumbing.NewHash(id.String()))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	record, ok, err := parseCommitMessage(commit.Message)
	if err != nil || !ok {
		return nil, nil, err
	}
	record.ID = core.ID(commit.Hash.String())
	return commit, record, nil
}

// lineageFiles lists the files of tree belonging to a lineage.
// A nil tree has no files.
func lineageFiles(tree *object.Tree, serviceID, documentType string) ([]string, error) {
	if tree == nil {
		return nil, nil
	}
	serviceDir := escapeSegment(serviceID)
	dir, err := tree.Tree(serviceDir)
	if errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range dir.Entries {
		if entry.Mode.IsFile() && isLineageFile(entry.Name, documentType) {
			files = append(files, path.Join(serviceDir, entry.Name))
		}
	}
	return files, nil
}

func readFile(tree *object.Tree, filePath string) ([]byte, error) {
	file, err := tree.File(filePath)
	if err != nil {
		return nil, err
	}
	rd, err := file.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}

// readCommitContent reads the content of record as stored by commit.
func readCommitContent(commit *object.Commit, record *core.Record) ([]byte, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	filePath := lineagePath(record.ServiceID, record.DocumentType, record.MimeType)
	content, err := readFile(tree, filePath)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s at %s", storage.ErrNotFound, filePath, commit.Hash)
	}
	return content, err
}
