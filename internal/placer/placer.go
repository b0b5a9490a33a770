// Package placer keeps every artifact under the directory of its item's
// current category and prunes category directories left empty.
package placer

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/issuemirror/internal/classify"
	"github.com/p-blackswan/issuemirror/internal/item"
	"github.com/p-blackswan/issuemirror/internal/ledger"
)

const (
	artifactExt = ".md"
	maxSlugLen  = 50
)

// ErrTargetExists is returned when a move would replace another file.
var ErrTargetExists = errors.New("move target already exists")

// Move describes one relocation. Paths are slash-separated and relative to
// the base directory.
type Move struct {
	ID           int               `json:"id"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	FromCategory classify.Category `json:"fromCategory,omitempty"`
	ToCategory   classify.Category `json:"toCategory"`
}

func (m Move) String() string {
	return fmt.Sprintf("#%d %s -> %s", m.ID, m.From, m.To)
}

// Placer moves artifacts inside one output tree. It takes no locks: only one
// sync process may work on a tree at a time.
type Placer struct {
	baseDir string
	logger  zerolog.Logger
}

// New returns a Placer rooted at baseDir.
func New(baseDir string, logger zerolog.Logger) *Placer {
	return &Placer{
		baseDir: baseDir,
		logger:  logger.With().Str("component", "placer").Logger(),
	}
}

// BaseDir returns the root of the output tree.
func (p *Placer) BaseDir() string {
	return p.baseDir
}

// ArtifactName returns the file name for an item: "<id>-<slug>.md".
func ArtifactName(it *item.Item) string {
	s := slug(it.Title)
	if s == "" {
		return strconv.Itoa(it.ID) + artifactExt
	}
	return strconv.Itoa(it.ID) + "-" + s + artifactExt
}

// PathFor returns where an item's artifact belongs, relative to the base.
func PathFor(it *item.Item) string {
	return path.Join(string(classify.Classify(it)), ArtifactName(it))
}

// IDFromName extracts the item identifier encoded at the start of a file
// name.
func IDFromName(name string) (int, bool) {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	if end < len(name) && name[end] != '-' && name[end] != '.' {
		return 0, false
	}
	id, err := strconv.Atoi(name[:end])
	if err != nil {
		return 0, false
	}
	return id, true
}

// CategoryOf infers the category from the parent directory of a recorded
// path.
func CategoryOf(relPath string) (classify.Category, bool) {
	dir := filepath.Base(filepath.Dir(filepath.FromSlash(relPath)))
	return classify.Parse(dir)
}

// Abs resolves a recorded path against the base directory. Absolute paths
// are returned unchanged.
func (p *Placer) Abs(relPath string) string {
	native := filepath.FromSlash(relPath)
	if filepath.IsAbs(native) {
		return native
	}
	return filepath.Join(p.baseDir, native)
}

// Exists reports whether the artifact at relPath is a regular file.
func (p *Placer) Exists(relPath string) bool {
	fi, err := os.Stat(p.Abs(relPath))
	return err == nil && fi.Mode().IsRegular()
}

// Write stores content at relPath atomically, creating directories.
func (p *Placer) Write(relPath string, content []byte) error {
	abs := p.Abs(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(abs), err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("writing %s: %w", abs, err)
	}
	return nil
}

// Remove deletes the artifact at relPath and prunes its directory when it is
// left empty. A missing file is not an error.
func (p *Placer) Remove(relPath string) error {
	abs := p.Abs(relPath)
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", abs, err)
	}
	p.prune(filepath.Dir(abs))
	return nil
}

// RelocateIfNeeded moves the artifact recorded in entry to the directory of
// the item's current category. It returns nil when there is no entry, the
// category is unchanged, or the recorded file is gone. An error means the
// rename failed and the artifact stays where it was; ErrTargetExists means
// another file already holds the destination name.
func (p *Placer) RelocateIfNeeded(it *item.Item, entry *ledger.Entry) (*Move, error) {
	if entry == nil || entry.FilePath == "" {
		return nil, nil
	}

	current := classify.Classify(it)
	previous, _ := CategoryOf(entry.FilePath)
	if current == previous {
		return nil, nil
	}

	if !p.Exists(entry.FilePath) {
		p.logger.Info().Int("id", it.ID).Str("path", entry.FilePath).Msg("recorded artifact missing, nothing to move")
		return nil, nil
	}

	mv := Move{
		ID:           it.ID,
		From:         filepath.ToSlash(entry.FilePath),
		To:           path.Join(string(current), path.Base(filepath.ToSlash(entry.FilePath))),
		FromCategory: previous,
		ToCategory:   current,
	}
	if err := p.move(mv); err != nil {
		return nil, err
	}
	p.logger.Info().Int("id", it.ID).Str("from", mv.From).Str("to", mv.To).Msg("artifact relocated")
	return &mv, nil
}

// move renames mv.From to mv.To. It never replaces an existing file.
func (p *Placer) move(mv Move) error {
	from, to := p.Abs(mv.From), p.Abs(mv.To)
	if err := p.checkTarget(mv.To); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(to), err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("moving %s to %s: %w", from, to, err)
	}
	p.prune(filepath.Dir(from))
	return nil
}

func (p *Placer) checkTarget(relPath string) error {
	_, err := os.Lstat(p.Abs(relPath))
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", relPath, ErrTargetExists)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("checking %s: %w", relPath, err)
	}
}

// prune removes dir if it is empty. Failures are ignored; the base
// directory itself is never removed.
func (p *Placer) prune(dir string) {
	if filepath.Clean(dir) == filepath.Clean(p.baseDir) {
		return
	}
	if err := os.Remove(dir); err == nil {
		p.logger.Debug().Str("dir", dir).Msg("pruned empty directory")
	}
}

// slug turns a title into a lowercase, dash separated file name fragment.
func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := b.String()
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return strings.Trim(s, "-")
}
