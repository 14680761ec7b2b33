// Package speechtype keeps the named reference voices used for multi-style
// synthesis. The registry is persisted as a JSON object mapping a style name
// to its reference clip and transcript.
package speechtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	registryFileMode = 0o600
	clipDirMode      = 0o750
)

var (
	// ErrSpeechTypeNotFound is returned when a style is not registered.
	ErrSpeechTypeNotFound = errors.New("speech type not found")
	// ErrNameEmpty is returned when registering a style without a name.
	ErrNameEmpty = errors.New("speech type name cannot be empty")
	// ErrUnsupportedFile is returned for uploads with a disallowed extension.
	ErrUnsupportedFile = errors.New("file type not allowed")
	// ErrEmptyUpload is returned when an upload carries no data.
	ErrEmptyUpload = errors.New("uploaded file is empty")
)

var allowedExtensions = map[string]struct{}{
	"wav": {}, "mp3": {}, "webm": {}, "ogg": {}, "m4a": {},
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Entry is one registered reference voice. Audio is the path of the clip;
// an empty RefText means the transcript is unknown.
type Entry struct {
	Audio   string `json:"audio"`
	RefText string `json:"ref_text"`
}

// Registry is a thread-safe, file-backed set of speech types.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	stamp   fileStamp
	now     func() time.Time
}

// fileStamp identifies the version of the backing file last read or written.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// Load reads the registry at path. A missing file yields an empty registry
// that will be created on the first mutation.
func Load(path string) (*Registry, error) {
	entries, stamp, err := readEntries(path)
	if err != nil {
		return nil, err
	}

	return &Registry{path: path, entries: entries, stamp: stamp, now: time.Now}, nil
}

// Refresh reloads the registry when the file changed since this registry
// last read or wrote it, so voices registered by another process become
// visible. It reports whether a reload happened. On error the current
// entries are kept.
func (r *Registry) Refresh() (bool, error) {
	current, err := statFile(r.path)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current.same(r.stamp) {
		return false, nil
	}

	entries, stamp, err := readEntries(r.path)
	if err != nil {
		return false, err
	}

	r.entries = entries
	r.stamp = stamp

	return true, nil
}

func readEntries(path string) (map[string]Entry, fileStamp, error) {
	entries := make(map[string]Entry)

	stamp, err := statFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, fileStamp{}, nil
	}

	if err != nil {
		return nil, fileStamp{}, fmt.Errorf("failed to read speech types %s: %w", path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return entries, stamp, nil
	}

	decodeErr := json.Unmarshal(data, &entries)
	if decodeErr != nil {
		return nil, fileStamp{}, fmt.Errorf("failed to decode speech types %s: %w", path, decodeErr)
	}

	return entries, stamp, nil
}

func (s fileStamp) same(other fileStamp) bool {
	return s.size == other.size && s.modTime.Equal(other.modTime)
}

// statFile returns the zero stamp for a missing file.
func statFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileStamp{}, nil
	}

	if err != nil {
		return fileStamp{}, fmt.Errorf("failed to stat speech types %s: %w", path, err)
	}

	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrSpeechTypeNotFound, name)
	}

	return entry, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entries[name]

	return exists
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Set registers or replaces name and persists the registry.
func (r *Registry) Set(name string, entry Entry) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.entries[name]
	r.entries[name] = entry

	saveErr := r.saveLocked()
	if saveErr != nil {
		if existed {
			r.entries[name] = previous
		} else {
			delete(r.entries, name)
		}

		return saveErr
	}

	return nil
}

// Delete removes name and persists the registry.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.entries[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSpeechTypeNotFound, name)
	}

	delete(r.entries, name)

	saveErr := r.saveLocked()
	if saveErr != nil {
		r.entries[name] = previous

		return saveErr
	}

	return nil
}

// Store saves an uploaded reference clip under clipDir and registers it as
// name. The file is named "<name>_<unix>_<fileName>" with unsafe characters
// replaced.
func (r *Registry) Store(clipDir, name, fileName string, data []byte, refText string) (Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, ErrNameEmpty
	}

	if !AllowedFile(fileName) {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, fileName)
	}

	if len(data) == 0 {
		return Entry{}, ErrEmptyUpload
	}

	mkdirErr := os.MkdirAll(clipDir, clipDirMode)
	if mkdirErr != nil {
		return Entry{}, fmt.Errorf("failed to create reference dir %s: %w", clipDir, mkdirErr)
	}

	stamp := strconv.FormatInt(r.now().Unix(), 10)
	target := filepath.Join(clipDir, secureFileName(name+"_"+stamp+"_"+filepath.Base(fileName)))

	writeErr := os.WriteFile(target, data, registryFileMode)
	if writeErr != nil {
		return Entry{}, fmt.Errorf("failed to save upload %s: %w", target, writeErr)
	}

	entry := Entry{Audio: target, RefText: strings.TrimSpace(refText)}

	setErr := r.Set(name, entry)
	if setErr != nil {
		_ = os.Remove(target)

		return Entry{}, setErr
	}

	return entry, nil
}

// saveLocked writes through a temp file and rename so readers never observe
// a partial document. Callers hold r.mu.
func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode speech types: %w", err)
	}

	dir := filepath.Dir(r.path)

	mkdirErr := os.MkdirAll(dir, clipDirMode)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create registry dir %s: %w", dir, mkdirErr)
	}

	tmp, err := os.CreateTemp(dir, ".speech-types-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = os.Chmod(tmpName, registryFileMode)
	}

	if writeErr == nil {
		writeErr = os.Rename(tmpName, r.path)
	}

	if writeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to save speech types %s: %w", r.path, writeErr)
	}

	stamp, err := statFile(r.path)
	if err == nil {
		r.stamp = stamp
	}

	return nil
}

// AllowedFile reports whether fileName has an accepted audio extension.
func AllowedFile(fileName string) bool {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	_, ok := allowedExtensions[strings.ToLower(ext)]

	return ok
}

func secureFileName(name string) string {
	return strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "._")
}
