package crawler

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration error returned before a
// crawl starts.
var ErrInvalidConfig = errors.New("invalid crawler configuration")

// DefaultGracePeriod bounds how long Crawl waits past its deadline for
// in-flight work to finish.
const DefaultGracePeriod = 100 * time.Second

// Config controls a single crawler instance.
type Config struct {
	// Timeout is added to the start time to compute the crawl deadline.
	Timeout time.Duration
	// MaxDepth is the number of link levels followed; 0 visits nothing.
	MaxDepth int
	// IgnoredURLs are regular expressions; a URL matching one in full is
	// never visited.
	IgnoredURLs []string
	// PopularWordCount is the number of words reported.
	PopularWordCount int
	// Parallelism is the requested number of concurrent page parses.
	Parallelism int
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
}

// Validate reports configuration errors wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidConfig)
	}
	if c.PopularWordCount < 0 {
		return fmt.Errorf("%w: popular_word_count must be >= 0", ErrInvalidConfig)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("%w: parallelism must be > 0", ErrInvalidConfig)
	}
	if _, err := CompilePatterns(c.IgnoredURLs); err != nil {
		return fmt.Errorf("%w: ignored_urls: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) gracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return DefaultGracePeriod
}

// CompilePatterns compiles each expression so that it only matches a whole
// input string.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// MatchesAny reports whether s fully matches one of the compiled patterns.
func MatchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
