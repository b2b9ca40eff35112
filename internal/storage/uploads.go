// Package storage keeps uploaded audio segments on the local filesystem,
// one directory per chat session.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxBytes caps a single audio upload.
	DefaultMaxBytes int64 = 10 << 20

	filePrefix = "audio"

	maxExtensionLen = 10
)

// DefaultAudioExtensions lists the accepted audio container extensions.
var DefaultAudioExtensions = []string{".wav", ".mp3", ".m4a", ".aac", ".ogg", ".webm"}

var (
	// ErrTooLarge is returned when the upload exceeds the configured limit.
	ErrTooLarge = errors.New("upload store: file exceeds size limit")
	// ErrNotAudio is returned for uploads that are neither audio/* nor a known extension.
	ErrNotAudio = errors.New("upload store: only audio files are accepted")
)

// FileInfo describes a stored audio file.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// SessionDir describes one session upload directory.
type SessionDir struct {
	SessionID string
	Path      string
	ModTime   time.Time
}

// UploadStore persists audio uploads under <root>/<sessionId>/.
type UploadStore struct {
	root       string
	maxBytes   int64
	extensions map[string]struct{}
	clock      func() time.Time
}

// Option customises the UploadStore.
type Option func(*UploadStore)

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(s *UploadStore) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithAudioExtensions overrides DefaultAudioExtensions.
func WithAudioExtensions(exts []string) Option {
	return func(s *UploadStore) {
		if len(exts) == 0 {
			return
		}
		s.extensions = extensionSet(exts)
	}
}

// WithClock overrides the clock used for generated file names.
func WithClock(clock func() time.Time) Option {
	return func(s *UploadStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewUploadStore initialises a filesystem-backed upload store rooted at dir.
func NewUploadStore(dir string, opts ...Option) (*UploadStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("upload store: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload store: ensure root directory: %w", err)
	}

	store := &UploadStore{
		root:       dir,
		maxBytes:   DefaultMaxBytes,
		extensions: extensionSet(DefaultAudioExtensions),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Root returns the upload root directory.
func (s *UploadStore) Root() string {
	return s.root
}

// MaxBytes returns the per-file size limit.
func (s *UploadStore) MaxBytes() int64 {
	return s.maxBytes
}

// IsAudio accepts a file when its content type is audio/* or its extension is allowed.
func (s *UploadStore) IsAudio(fileName, contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasPrefix(contentType, "audio/") {
		return true
	}
	_, ok := s.extensions[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

// SessionDir returns the directory holding a session's uploads.
func (s *UploadStore) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sanitizePathFragment(sessionID))
}

// Save streams r into a new uniquely named file in the session directory.
// The file is written to a temporary name first and renamed once complete.
func (s *UploadStore) Save(ctx context.Context, sessionID, originalName string, r io.Reader) (FileInfo, error) {
	if strings.TrimSpace(sessionID) == "" {
		return FileInfo{}, errors.New("upload store: session id is required")
	}
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	dir := s.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileInfo{}, fmt.Errorf("upload store: mkdir %s: %w", dir, err)
	}

	name := s.fileName(originalName)
	fullPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	written, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		cleanup()
		return FileInfo{}, fmt.Errorf("upload store: write file: %w", err)
	}
	if written > s.maxBytes {
		cleanup()
		return FileInfo{}, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return FileInfo{}, fmt.Errorf("upload store: close file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return FileInfo{}, fmt.Errorf("upload store: finalise file: %w", err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload store: stat file: %w", err)
	}
	return FileInfo{Name: name, Path: fullPath, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete removes one stored file. Missing files are ignored.
func (s *UploadStore) Delete(_ context.Context, sessionID, name string) error {
	fullPath := filepath.Join(s.SessionDir(sessionID), filepath.Base(name))
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("upload store: delete file: %w", err)
	}
	return nil
}

// ListAudio returns the session's audio files sorted by name. A missing
// directory yields an empty list.
func (s *UploadStore) ListAudio(_ context.Context, sessionID string) ([]FileInfo, error) {
	dir := s.SessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("upload store: read dir %s: %w", dir, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !s.listable(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ListSessionDirs returns every session directory under the root.
func (s *UploadStore) ListSessionDirs(_ context.Context) ([]SessionDir, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("upload store: read root: %w", err)
	}
	dirs := make([]SessionDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, SessionDir{
			SessionID: entry.Name(),
			Path:      filepath.Join(s.root, entry.Name()),
			ModTime:   info.ModTime(),
		})
	}
	return dirs, nil
}

// RemoveSession deletes a session directory and everything in it.
func (s *UploadStore) RemoveSession(_ context.Context, sessionID string) error {
	if err := os.RemoveAll(s.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("upload store: remove session dir: %w", err)
	}
	return nil
}

// Fingerprint summarises a file listing as "<count>-<newest mtime nanos>".
func Fingerprint(files []FileInfo) string {
	var newest int64
	for _, f := range files {
		if n := f.ModTime.UnixNano(); n > newest {
			newest = n
		}
	}
	return strconv.Itoa(len(files)) + "-" + strconv.FormatInt(newest, 10)
}

// listable reports whether name is an audio file: one this store wrote, or
// one carrying an allowed extension.
func (s *UploadStore) listable(name string) bool {
	if strings.HasPrefix(name, filePrefix+"-") {
		return true
	}
	return s.IsAudio(name, "")
}

// fileName builds audio-<unixMillis>-<9 random digits><ext>, keeping the
// original extension when it is short and alphanumeric.
func (s *UploadStore) fileName(originalName string) string {
	return fmt.Sprintf("%s-%d-%09d%s", filePrefix, s.clock().UnixMilli(), rand.IntN(1_000_000_000), cleanExtension(originalName))
}

func cleanExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > maxExtensionLen+1 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

func sanitizePathFragment(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	fragment = strings.ReplaceAll(fragment, "..", "")
	fragment = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, fragment)
	fragment = strings.Trim(fragment, "-")
	if fragment == "" {
		return "unknown"
	}
	return fragment
}
