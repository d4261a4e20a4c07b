// Package validate decides whether agent output is acceptable: structurally
// (non-empty, declared format, bounded size) and semantically (no raw secret
// material, detected with the Gitleaks SDK).
package validate

import "errors"

var (
	// ErrInvalidRegex indicates a regex pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates a TOML file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrUnknownFormat indicates an unrecognized output format name.
	ErrUnknownFormat = errors.New("unknown output format")
)
