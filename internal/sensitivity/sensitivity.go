// Package sensitivity filters command lines that carry credentials or other
// sensitive data before any learner sees them, using built-in regexes,
// structural credential heuristics, and a hot-reloadable user ignore-glob
// list.
package sensitivity

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/fsnotify/fsnotify"

	"pscue/internal/logging"
)

// builtinPatterns match common credential-bearing command lines,
// case-insensitive.
var builtinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)api[_-]?key`),
	regexp.MustCompile(`(?i)\btoken\b`),
	regexp.MustCompile(`(?i)bearer`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)oauth`),
	regexp.MustCompile(`(?i)private[_-]?key`),
}

// prefixedTokenPatterns match structurally credential-shaped standalone
// tokens by well-known prefix.
var prefixedTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bsk_[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`\bAKIA[A-Z0-9]{12,}\b`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), // JWT
}

var hexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)

// Filter decides whether a command line should be dropped from learning.
// Safe for concurrent use; the user ignore-glob list may be hot-reloaded.
type Filter struct {
	mu           sync.RWMutex
	userGlobs    []string
	watcher      *fsnotify.Watcher
	globsPath    string
}

// New constructs a Filter with no user globs loaded.
func New() *Filter {
	return &Filter{}
}

// LoadIgnoreGlobs reads one glob pattern per line from path (missing file is
// not an error: it simply means no user globs are configured).
func (f *Filter) LoadIgnoreGlobs(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			f.mu.Lock()
			f.userGlobs = nil
			f.globsPath = path
			f.mu.Unlock()
			return nil
		}
		return err
	}
	defer file.Close()

	var globs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		globs = append(globs, line)
	}

	f.mu.Lock()
	f.userGlobs = globs
	f.globsPath = path
	f.mu.Unlock()
	return nil
}

// WatchIgnoreGlobs starts hot-reloading path on change, via fsnotify. The
// returned error is non-fatal to the caller's startup path: a failure to
// watch just means config changes require a restart.
func (f *Filter) WatchIgnoreGlobs(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	f.mu.Lock()
	f.watcher = watcher
	f.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := f.LoadIgnoreGlobs(path); err != nil {
						logging.Get(logging.CategorySensitivity).Warn("reload of ignore globs failed: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategorySensitivity).Warn("ignore-glob watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops the hot-reload watcher, if any.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

// Reject reports whether commandLine should be dropped from all learning.
func (f *Filter) Reject(commandLine string) bool {
	for _, re := range builtinPatterns {
		if re.MatchString(commandLine) {
			return true
		}
	}
	for _, re := range prefixedTokenPatterns {
		if re.MatchString(commandLine) {
			return true
		}
	}
	if hexPattern.MatchString(commandLine) {
		return true
	}
	for _, tok := range strings.Fields(commandLine) {
		if looksLikeBase64Credential(tok) {
			return true
		}
	}

	f.mu.RLock()
	globs := f.userGlobs
	f.mu.RUnlock()
	for _, g := range globs {
		if ok, _ := filepath.Match(g, commandLine); ok {
			return true
		}
		for _, tok := range strings.Fields(commandLine) {
			if ok, _ := filepath.Match(g, tok); ok {
				return true
			}
		}
	}
	return false
}

// looksLikeBase64Credential flags a standalone token of at least 40
// characters drawn from a mixed base64-like alphabet (upper, lower, and
// digit all present) as structurally credential-shaped.
func looksLikeBase64Credential(tok string) bool {
	if len(tok) < 40 {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range tok {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case r == '+' || r == '/' || r == '=' || r == '-' || r == '_':
			// allowed base64/base64url punctuation
		default:
			return false
		}
	}
	return hasUpper && hasLower && hasDigit
}
