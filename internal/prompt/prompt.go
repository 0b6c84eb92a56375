// Package prompt decides if the latest output of an interactive remote program
// is a question blocked on operator input.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultGracePeriod is the silence after which any unterminated line is a prompt.
	DefaultGracePeriod = 3 * time.Second
	// DefaultSettleDelay is the silence required before a prompt-shaped line is a prompt.
	DefaultSettleDelay = 250 * time.Millisecond
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-Z\\-_]`)

	defaultPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[:?]$`),
		regexp.MustCompile(`\[[yY]/[nN]\]`),
		regexp.MustCompile(`(?i)\((yes/no|y/n)\)`),
		regexp.MustCompile(`^Enter `),
		regexp.MustCompile(`Continue\?`),
		regexp.MustCompile(`(?i)password:$`),
	}

	secretPattern = regexp.MustCompile(`(?i)(password|passphrase|secret)`)
)

// ClassifierConfig is the classifier configuration.
type ClassifierConfig struct {
	// GracePeriod of silence after which an unterminated line is a prompt regardless of its shape.
	GracePeriod time.Duration
	// SettleDelay of silence required for a prompt-shaped line, avoids flagging half written lines.
	SettleDelay time.Duration
	// ExtraPatterns are regexes that also identify a prompt-shaped line.
	ExtraPatterns []string
}

func (c *ClassifierConfig) defaults() error {
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.GracePeriod < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("durations can't be negative")
	}
	if c.SettleDelay > c.GracePeriod {
		return fmt.Errorf("settle delay can't be greater than grace period")
	}
	return nil
}

// Input is what the classifier looks at.
type Input struct {
	// Recent is the output not answered yet.
	Recent string
	// SilentFor is the time since the last output chunk.
	SilentFor time.Duration
	// Exited is true when the remote program has finished.
	Exited bool
}

// Result is the classification result.
type Result struct {
	IsPrompt bool
	// PromptText is the unterminated line the program is blocked on, the only one that
	// gets an answer.
	PromptText string
	// Context are the question shaped complete lines right before the prompt, in order.
	// The program already moved past them so they are never answered.
	Context []string
}

// Classifier classifies remote output, it's safe for concurrent use.
type Classifier struct {
	grace    time.Duration
	settle   time.Duration
	patterns []*regexp.Regexp
}

// NewClassifier returns a new classifier.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	patterns := append([]*regexp.Regexp{}, defaultPatterns...)
	for _, p := range cfg.ExtraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Classifier{
		grace:    cfg.GracePeriod,
		settle:   cfg.SettleDelay,
		patterns: patterns,
	}, nil
}

// Classify decides if the input is a prompt.
func (c *Classifier) Classify(in Input) Result {
	if in.Exited {
		return Result{}
	}

	text := StripANSI(in.Recent)
	if text == "" || strings.HasSuffix(text, "\n") {
		return Result{}
	}

	lines := strings.Split(text, "\n")
	candidate := lines[len(lines)-1]
	if i := strings.LastIndex(candidate, "\r"); i >= 0 {
		candidate = candidate[i+1:]
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return Result{}
	}

	shaped := c.LooksLikePrompt(candidate)
	switch {
	case shaped && in.SilentFor >= c.settle:
	case in.SilentFor >= c.grace:
	default:
		return Result{}
	}

	res := Result{IsPrompt: true, PromptText: candidate}
	for i := len(lines) - 2; i >= 0; i-- {
		l := cleanLine(lines[i])
		if l == "" || !c.LooksLikePrompt(l) {
			break
		}
		res.Context = append([]string{l}, res.Context...)
	}

	return res
}

// LooksLikePrompt returns true if the line has the shape of a question.
func (c *Classifier) LooksLikePrompt(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// IsSecret returns true if the prompt asks for something that shouldn't be logged.
func IsSecret(promptText string) bool {
	return secretPattern.MatchString(promptText)
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// cleanLine drops anything overwritten with a carriage return and trims a complete line.
func cleanLine(l string) string {
	l = strings.TrimRight(l, "\r")
	if i := strings.LastIndex(l, "\r"); i >= 0 {
		l = l[i+1:]
	}
	return strings.TrimSpace(l)
}
