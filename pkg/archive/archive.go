// Package archive persists snapshot histories into a git repository, one
// commit per snapshot. The runtime itself keeps history in memory only;
// hosts that want durability across restarts archive explicitly.
package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"chrono/runtime-go/pkg/runtime"
	"chrono/runtime-go/pkg/versioned"
)

// Archiver writes snapshots as commits, oldest to newest, and remembers how
// far each variable has been archived so repeated calls only append new
// history. The watermark is keyed by handle, not name: a freed and recreated
// variable starts over at sequence zero and must archive from scratch even
// when it reuses a name. Not safe for concurrent use; hosts serialise
// archiving.
type Archiver struct {
	repo     *git.Repository
	author   string
	email    string
	archived map[versioned.Handle]uint64 // next unarchived sequence per variable
}

// NewInMemory creates an archiver backed by an in-memory repository.
// Useful for tests and for hosts that export history elsewhere.
func NewInMemory(author, email string) (*Archiver, error) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, fmt.Errorf("archive: init in-memory repository: %w", err)
	}
	return newArchiver(repo, author, email), nil
}

// Open creates or reopens an on-disk repository at path.
func Open(path, author, email string) (*Archiver, error) {
	repo, err := git.PlainInit(path, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		repo, err = git.PlainOpen(path)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: open repository %s: %w", path, err)
	}
	return newArchiver(repo, author, email), nil
}

func newArchiver(repo *git.Repository, author, email string) *Archiver {
	return &Archiver{
		repo:     repo,
		author:   author,
		email:    email,
		archived: make(map[versioned.Handle]uint64),
	}
}

// Archive commits every not-yet-archived snapshot reachable through hist
// under the given variable name. It returns the number of commits created.
func (a *Archiver) Archive(name string, hist *versioned.History) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("archive: empty variable name")
	}
	wt, err := a.repo.Worktree()
	if err != nil {
		return 0, fmt.Errorf("archive: worktree: %w", err)
	}

	path := name + ".chrono"
	key := hist.Handle()
	count := 0
	for hist.Next() {
		snap := hist.Snapshot()
		if snap.Seq < a.archived[key] {
			continue
		}
		content := fmt.Sprintf("# %s snapshot %d\n%s\n", name, snap.Seq, runtime.Format(snap.Value))
		if err := util.WriteFile(wt.Filesystem, path, []byte(content), 0o644); err != nil {
			return count, fmt.Errorf("archive: write %s: %w", path, err)
		}
		if _, err := wt.Add(path); err != nil {
			return count, fmt.Errorf("archive: stage %s: %w", path, err)
		}
		msg := fmt.Sprintf("%s: snapshot %d", name, snap.Seq)
		_, err := wt.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{
				Name:  a.author,
				Email: a.email,
				When:  time.Now(),
			},
			AllowEmptyCommits: true,
		})
		if err != nil {
			return count, fmt.Errorf("archive: commit snapshot %d of %s: %w", snap.Seq, name, err)
		}
		a.archived[key] = snap.Seq + 1
		count++
	}
	return count, nil
}

// Commits returns the commit messages on the archive's history, newest
// first.
func (a *Archiver) Commits() ([]string, error) {
	iter, err := a.repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: log: %w", err)
	}
	defer iter.Close()
	var messages []string
	err = iter.ForEach(func(c *object.Commit) error {
		messages = append(messages, c.Message)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: iterate log: %w", err)
	}
	return messages, nil
}
