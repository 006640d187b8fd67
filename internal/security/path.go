package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinBoundary ensures that targetPath resolves to boundaryPath
// or to a location below it. Source files rendered in diagnostics and
// procedure files loaded by the CLI are confined this way.
//
// Example:
//
//	boundary := "/srv/app"
//	target := "/srv/app/procedures/checkout.yaml"  // valid
//	target := "/srv/app/../../etc/passwd"          // rejected
func ValidatePathWithinBoundary(boundaryPath, targetPath string) error {
	absBoundary, err := filepath.Abs(boundaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve boundary path %q: %w", boundaryPath, err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return fmt.Errorf("failed to resolve target path %q: %w", targetPath, err)
	}

	rel, err := filepath.Rel(absBoundary, absTarget)
	if err != nil {
		return fmt.Errorf("invalid path relationship between %q and %q: %w", absBoundary, absTarget, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %q escapes boundary %q", targetPath, boundaryPath)
	}

	return nil
}

// ResolveWithinBoundary joins a relative target onto boundaryPath (absolute
// targets are kept) and validates the result.
func ResolveWithinBoundary(boundaryPath, targetPath string) (string, error) {
	resolved := targetPath
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(boundaryPath, targetPath)
	}
	if err := ValidatePathWithinBoundary(boundaryPath, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}
