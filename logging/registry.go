package logging

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// LoggerPatternConfig sets the level of every logger whose dotted name matches Pattern. A "*"
// matches any run of characters, e.g. "interceptor.*" or "*.vision".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// e.g. "foo", "*" or "foo*".
	validLoggerSection = `[a-zA-Z0-9_*-]+`
	// e.g. "foo.*.bar*".
	validLoggerName = `^` + validLoggerSection + `(\.` + validLoggerSection + `)*$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

// Validate checks the pattern syntax and the level name.
func (lpc LoggerPatternConfig) Validate() error {
	var err error
	if !loggerPatternRegexp.MatchString(lpc.Pattern) {
		err = multierr.Append(err, errors.Errorf("invalid logger pattern %q", lpc.Pattern))
	}
	if _, lerr := LevelFromString(lpc.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}

func (lpc LoggerPatternConfig) matcher() *regexp.Regexp {
	var b strings.Builder
	b.WriteRune('^')
	for _, ch := range lpc.Pattern {
		switch ch {
		case '*':
			b.WriteString(`.*`)
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteRune(ch)
		}
	}
	b.WriteRune('$')
	return regexp.MustCompile(b.String())
}

// Registry tracks every logger derived from one root so their levels can be changed by name at
// runtime. Loggers registered after Apply are configured on registration.
type Registry struct {
	mu       sync.RWMutex
	root     string
	base     Level
	loggers  map[string]*impl
	patterns []LoggerPatternConfig
}

func newRegistry(root string, base Level) *Registry {
	return &Registry{root: root, base: base, loggers: map[string]*impl{}}
}

// rootLevelChanged records the level the root was set to; Apply falls back to it.
func (lr *Registry) rootLevelChanged(name string, level Level) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if name == lr.root {
		lr.base = level
	}
}

// RegistryOf returns the registry logger belongs to, or nil for foreign implementations.
func RegistryOf(logger Logger) *Registry {
	if imp, ok := logger.(*impl); ok {
		return imp.registry
	}
	return nil
}

// getOrRegister returns the logger already registered under name, or registers logger and
// applies the current patterns to it.
func (lr *Registry) getOrRegister(name string, logger *impl) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existing, ok := lr.loggers[name]; ok {
		return existing
	}
	lr.loggers[name] = logger
	if level, ok := lr.levelForLocked(name); ok {
		logger.level.SetLevel(level.AsZap())
	}
	return logger
}

// levelForLocked returns the level of the last pattern matching name.
func (lr *Registry) levelForLocked(name string) (Level, bool) {
	var (
		level Level
		found bool
	)
	for _, lpc := range lr.patterns {
		if !lpc.matcher().MatchString(name) {
			continue
		}
		// validated in Apply
		level, _ = LevelFromString(lpc.Level)
		found = true
	}
	return level, found
}

// Apply replaces the pattern configuration. Loggers matched by no pattern return to the level
// the root logger was created with. On error nothing changes.
func (lr *Registry) Apply(patterns []LoggerPatternConfig) error {
	var err error
	for _, lpc := range patterns {
		err = multierr.Append(err, lpc.Validate())
	}
	if err != nil {
		return err
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.patterns = append([]LoggerPatternConfig(nil), patterns...)
	for name, logger := range lr.loggers {
		level, ok := lr.levelForLocked(name)
		if !ok {
			level = lr.base
		}
		logger.level.SetLevel(level.AsZap())
	}
	return nil
}

// SetLevel sets level on every registered logger matching pattern and returns how many matched.
// Loggers registered later are not affected.
func (lr *Registry) SetLevel(pattern string, level Level) (int, error) {
	lpc := LoggerPatternConfig{Pattern: pattern, Level: level.String()}
	if err := lpc.Validate(); err != nil {
		return 0, err
	}
	re := lpc.matcher()

	lr.mu.RLock()
	defer lr.mu.RUnlock()
	matched := 0
	for name, logger := range lr.loggers {
		if re.MatchString(name) {
			logger.level.SetLevel(level.AsZap())
			matched++
		}
	}
	return matched, nil
}

// Names returns the registered logger names, sorted.
func (lr *Registry) Names() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
