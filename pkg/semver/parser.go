// Package semver provides app reference parsing and SemVer resolution logic.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedAppRef holds the parsed components of an app reference string.
type ParsedAppRef struct {
	// Application name (e.g., "billing")
	App string
	// Version range if specified (e.g., "^3.2.0", "3", ""); empty string means no version
	Range string
	// Raw input string
	Raw string
}

var (
	appNameRegex    = regexp.MustCompile(`^[a-z][a-z0-9.-]*$`)
	instanceIDRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	configKeyRegex  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex  = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseAppRef parses an app reference string.
//
// Supported formats:
//   - billing              (no version)
//   - billing@3            (major only)
//   - billing@3.2.1        (exact version)
//   - billing@^3.2.0       (caret range)
//   - billing@~3.2.0       (tilde range)
//   - billing@>=3.0.0      (comparison range)
func ParseAppRef(input string) (*ParsedAppRef, error) {
	raw := strings.TrimSpace(input)

	// Split on @ to separate app from version
	atIndex := strings.Index(raw, "@")

	var app string
	var rangeStr string

	if atIndex == -1 {
		app = raw
	} else {
		app = raw[:atIndex]
		rangeStr = raw[atIndex+1:]
	}

	if app == "" {
		return nil, fmt.Errorf("%s - invalid app reference, missing app: %s", logPrefix, raw)
	}
	if !ValidateAppName(app) {
		return nil, fmt.Errorf("%s - invalid app name: %s", logPrefix, app)
	}

	return &ParsedAppRef{
		App:   app,
		Range: rangeStr,
		Raw:   raw,
	}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildAppRef builds a full app reference string from parts.
func BuildAppRef(app, versionRange string) string {
	if versionRange != "" {
		return app + "@" + versionRange
	}
	return app
}

// ValidateAppName validates an app name (lowercase, alphanumeric, dots, hyphens).
func ValidateAppName(app string) bool {
	return appNameRegex.MatchString(app)
}

// ValidateInstanceID validates an instance identifier (letters, digits, dots, hyphens, underscores).
func ValidateInstanceID(id string) bool {
	return instanceIDRegex.MatchString(id)
}

// ValidateConfigKey validates a config key (letters, digits, dots, hyphens, underscores).
func ValidateConfigKey(key string) bool {
	return configKeyRegex.MatchString(key)
}
