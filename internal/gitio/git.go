// Package gitio wraps the git operations of the artifact publish workflow.
//
// The render cache can read artifacts from a historical revision and the
// publisher can commit fresh artifacts onto a different branch. Branch
// switching is treated as a critical section: any failure triggers a
// best-effort rollback to the original branch, and uncommitted local
// changes are never discarded without confirmation.
package gitio

import (
	stderrors "errors"
	"os/exec"
	"regexp"
	"strings"

	"github.com/FocuswithJustin/readmetex/core/errors"
	"github.com/FocuswithJustin/readmetex/internal/logging"
)

// ErrAborted reports that the user declined the stash prompt. The run
// stops cleanly without mutating any state.
var ErrAborted = stderrors.New("aborted by user")

// CommitMessage is used for automated artifact commits.
const CommitMessage = "readmetex render"

// runGit is a variable so tests can intercept git invocations.
var runGit = func(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

// remotePattern extracts user and project from a remote URL, covering both
// https://github.com/user/project.git and git@github.com:user/project.git.
var remotePattern = regexp.MustCompile(`\.[a-z]+[:/]([^/\s]+)/([^/\s]+?)(?:\.git)?(?:\s|$)`)

// Git issues git commands in a working directory ("" means the current one).
type Git struct {
	Dir string
}

func (g *Git) run(args ...string) ([]byte, error) {
	out, err := runGit(g.Dir, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "git %s", strings.Join(args, " "))
	}
	return out, nil
}

// CurrentBranch returns the abbreviated name of the checked-out branch.
// Failure usually means the working directory is not a git repository.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Show reads a file from a revision without touching the working tree.
// A missing object is a NotFoundError: callers treat it as a cache miss.
func (g *Git) Show(revision, path string) ([]byte, error) {
	out, err := runGit(g.Dir, "show", revision+":"+path)
	if err != nil {
		return nil, &errors.NotFoundError{Resource: "revision object", ID: revision + ":" + path, Err: err}
	}
	return out, nil
}

// StatusDirty reports whether the working tree has uncommitted changes.
func (g *Git) StatusDirty() (bool, error) {
	out, err := g.run("status", "-s")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// OriginUserProject derives the hosting user and project name from the
// first configured remote.
func (g *Git) OriginUserProject() (user, project string, err error) {
	out, err := g.run("remote", "-v")
	if err != nil {
		return "", "", err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "", "", errors.NewNotFound("remote", "")
	}
	m := remotePattern.FindStringSubmatch(lines[0])
	if m == nil {
		return "", "", errors.NewParse("remote URL", "", lines[0])
	}
	return m[1], m[2], nil
}

// Publish runs persist with the artifact branch checked out and commits
// the result.
//
// If branch is empty or already checked out, persist runs in place and
// nothing is committed. Otherwise: a dirty tree prompts for a stash via
// confirm (declining returns ErrAborted), the branch is checked out,
// persist writes the artifacts, changes under addPath are committed, and
// the original branch is restored. Any failure in that sequence triggers
// a best-effort rollback before the error propagates.
func (g *Git) Publish(branch, addPath string, persist func() error, confirm func(prompt string) bool) error {
	current, err := g.CurrentBranch()
	if err != nil {
		return err
	}
	if branch == "" || branch == current {
		return persist()
	}

	dirty, err := g.StatusDirty()
	if err != nil {
		return err
	}
	stashed := false
	if dirty {
		if confirm == nil || !confirm("There are unstaged files, would you like to stash them? (They will be automatically unstashed.) [(y)/n] ") {
			return ErrAborted
		}
		logging.GitEvent("stash", current)
		if _, err := g.run("stash", "-u"); err != nil {
			return err
		}
		stashed = true
	}

	if err := g.publishOn(branch, current, addPath, persist); err != nil {
		logging.GitEvent("rollback", current)
		if rbErr := g.rollback(current); rbErr != nil {
			if stashed {
				logging.Error("you have stashed changes, make sure you unstash them", "branch", current)
			}
			return errors.Wrapf(err, "could not clean up (%v), make sure that you clean up manually", rbErr)
		}
		if stashed {
			logging.Error("you have stashed changes, make sure you unstash them", "branch", current)
		}
		return err
	}

	if stashed {
		logging.GitEvent("unstash", current)
		if _, err := g.run("stash", "pop", "-q"); err != nil {
			logging.Error("you have stashed changes, make sure you unstash them", "branch", current)
			return errors.Wrap(err, "you have stashed changes, make sure you unstash them")
		}
	}
	return nil
}

func (g *Git) publishOn(branch, original, addPath string, persist func() error) error {
	logging.GitEvent("checkout", branch)
	if _, err := g.run("checkout", branch); err != nil {
		return err
	}
	if err := persist(); err != nil {
		return err
	}

	dirty, err := g.StatusDirty()
	if err != nil {
		return err
	}
	if !dirty {
		logging.GitEvent("no_changes", branch)
	} else {
		logging.GitEvent("commit", branch)
		if _, err := g.run("add", addPath); err != nil {
			return err
		}
		if _, err := g.run("commit", "-m", CommitMessage); err != nil {
			return err
		}
	}

	logging.GitEvent("checkout", original)
	_, err = g.run("checkout", original)
	return err
}

// rollback restores the working tree and the original branch.
func (g *Git) rollback(original string) error {
	if _, err := g.run("checkout", "--", "."); err != nil {
		return err
	}
	if _, err := g.run("clean", "-df"); err != nil {
		return err
	}
	if _, err := g.run("checkout", original); err != nil {
		return err
	}
	return nil
}
