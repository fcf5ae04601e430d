// Package icons manages the uploaded dashboard icon directory.
package icons

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "kvmdash/pkg/logx"
)

// DefaultDir is where kvmd's web server serves /dashboard-images from.
const DefaultDir = "/usr/share/kvmd/web/dashboard-images"

// URLPrefix is the path the front end uses for uploaded icons.
const URLPrefix = "/dashboard-images/"

var (
	ErrInvalidType = errors.New("invalid file type. Use PNG, JPG, SVG, GIF, or WebP")
	ErrNoFile      = errors.New("no file selected")
)

var allowed = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true, "svg": true, "webp": true}

type Uploaded struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type CleanupResult struct {
	Deleted []string `json:"deleted"`
	Message string   `json:"message"`
}

type Store struct {
	fs  afero.Fs
	log logx.Logger

	mu  sync.Mutex
	dir string
}

func New(fs afero.Fs, dir string, log logx.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	return &Store{fs: fs, dir: dir, log: log.With(logx.String("comp", "icons"))}
}

// SetDir switches the icon directory for later calls.
func (s *Store) SetDir(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
}

func (s *Store) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Upload stores r under a sanitized form of name, replacing any file of the
// same name.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader) (Uploaded, error) {
	if strings.TrimSpace(name) == "" {
		return Uploaded{}, ErrNoFile
	}
	if !Allowed(name) {
		return Uploaded{}, ErrInvalidType
	}
	clean := SecureFilename(name)
	if clean == "" || !Allowed(clean) {
		return Uploaded{}, ErrInvalidType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return Uploaded{}, fmt.Errorf("create icon dir: %w", err)
	}
	p := filepath.Join(s.dir, clean)
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Uploaded{}, fmt.Errorf("create icon: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(p)
		return Uploaded{}, fmt.Errorf("write icon: %w", err)
	}
	if err := f.Close(); err != nil {
		return Uploaded{}, fmt.Errorf("write icon: %w", err)
	}
	// umask may have narrowed the create mode
	if err := s.fs.Chmod(p, 0o644); err != nil {
		s.log.Warn("chmod icon failed", logx.String("file", clean), logx.Err(err))
	}
	s.log.Info("icon uploaded", logx.String("file", clean))
	return Uploaded{Filename: clean, Path: URLPrefix + clean}, nil
}

// Cleanup removes every file in the icon directory that no PC in cfg
// references as an image icon.
func (s *Store) Cleanup(ctx context.Context, cfg map[string]any) (CleanupResult, error) {
	used := Referenced(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, err := afero.DirExists(s.fs, s.dir); err != nil || !ok {
		return CleanupResult{Deleted: []string{}, Message: "Upload folder doesn't exist"}, nil
	}
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list icons: %w", err)
	}
	var unused []string
	for _, e := range entries {
		if e.IsDir() || used[e.Name()] {
			continue
		}
		unused = append(unused, e.Name())
	}
	if len(unused) == 0 {
		return CleanupResult{Deleted: []string{}, Message: "No unused icons found"}, nil
	}
	sort.Strings(unused)

	deleted := []string{}
	for _, name := range unused {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil {
			s.log.Warn("remove icon failed", logx.String("file", name), logx.Err(err))
			continue
		}
		s.log.Info("deleted unused icon", logx.String("file", name))
		deleted = append(deleted, name)
	}
	return CleanupResult{Deleted: deleted, Message: fmt.Sprintf("Deleted %d unused icon(s)", len(deleted))}, nil
}

// Referenced collects the icon filenames used by pcs[*] with iconType
// "image".
func Referenced(cfg map[string]any) map[string]bool {
	used := map[string]bool{}
	pcs, _ := cfg["pcs"].([]any)
	for _, raw := range pcs {
		pc, _ := raw.(map[string]any)
		if pc == nil || pc["iconType"] != "image" {
			continue
		}
		icon, _ := pc["icon"].(string)
		if strings.HasPrefix(icon, URLPrefix) {
			used[path.Base(icon)] = true
		}
	}
	return used
}

// Allowed reports whether name has an accepted image extension.
func Allowed(name string) bool {
	i := strings.LastIndexByte(name, '.')
	return i >= 0 && allowed[strings.ToLower(name[i+1:])]
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces name to a flat ASCII filename: separators become
// spaces, whitespace runs become "_", other characters are dropped and
// leading/trailing dots and underscores are trimmed.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}
