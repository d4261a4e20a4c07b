package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Format identifies the declared output format of a task.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps a request string to a Format. Empty defaults to text.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(FormatText):
		return FormatText, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Result is the outcome of validating one agent output.
// Issues is empty exactly when Valid is true.
type Result struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// Options configures a Validator. Zero values take defaults.
type Options struct {
	MinTextLength  int    // Minimum byte length for text output (default 16)
	MaxOutputBytes int    // Upper bound on scanned output (default 65536)
	AllowlistPath  string // Optional gitleaks-style allowlist TOML (empty to skip)
}

const (
	defaultMinTextLength  = 16
	defaultMaxOutputBytes = 64 * 1024
)

// Validator checks agent output before it can win a run.
// The secret detector (800+ Gitleaks rules) is built once at construction;
// building it per check would recompile every rule's regex. The mutex
// serializes scans: ensemble legs validate concurrently and the detector is
// not documented as safe for concurrent use.
type Validator struct {
	minTextLength  int
	maxOutputBytes int

	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Validator, loading the optional allowlist file.
// A missing allowlist file is ignored; an invalid one is an error.
func New(opts Options) (*Validator, error) {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = defaultMinTextLength
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	if opts.AllowlistPath != "" {
		allowlist, err := LoadAllowlists(opts.AllowlistPath)
		if err != nil {
			return nil, err
		}
		applyAllowlist(&detector.Config, allowlist)
	}

	return &Validator{
		minTextLength:  opts.MinTextLength,
		maxOutputBytes: opts.MaxOutputBytes,
		detector:       detector,
	}, nil
}

// Check validates one agent output against the declared format.
// An invalid output stays in the run trace; it is never selected as winner.
func (v *Validator) Check(output string, format Format) Result {
	if strings.TrimSpace(output) == "" {
		return Result{Valid: false, Issues: []string{"output is empty"}}
	}

	// Size bound first: oversized output is rejected before the secret
	// scanner sees it.
	if len(output) > v.maxOutputBytes {
		return Result{Valid: false, Issues: []string{
			fmt.Sprintf("output exceeds %d bytes", v.maxOutputBytes),
		}}
	}

	var issues []string

	switch format {
	case FormatJSON:
		if !json.Valid([]byte(output)) {
			issues = append(issues, "output is not valid JSON")
		}
	default:
		if len(output) < v.minTextLength {
			issues = append(issues, fmt.Sprintf("text output shorter than %d bytes", v.minTextLength))
		}
	}

	v.mu.Lock()
	findings := v.detector.DetectString(output)
	v.mu.Unlock()

	for _, finding := range findings {
		issues = append(issues, fmt.Sprintf("secret material detected (%s)", finding.RuleID))
	}

	return Result{Valid: len(issues) == 0, Issues: issues}
}
