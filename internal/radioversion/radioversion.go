package radioversion

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// Parse extracts the version from a firmware string as reported
// by AT+VER?, e.g. "RYLR89C_V1.2.7", or from a plain "1.2.7".
func Parse(s string) (*version.Version, error) {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "_V"); idx >= 0 {
		s = s[idx+2:]
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	v, err := version.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid firmware version %q: %w", s, err)
	}
	return v, nil
}

// AtLeast returns whether the reported firmware is the same or
// newer than minimum
func AtLeast(reported string, minimum string) (bool, error) {
	r, err := Parse(reported)
	if err != nil {
		return false, err
	}
	m, err := Parse(minimum)
	if err != nil {
		return false, err
	}
	return r.Compare(m) >= 0, nil
}
