//go:build !linux

package term

// IsTerminal always reports false where terminal detection is unsupported;
// callers fall back to non-interactive mode.
func IsTerminal(fd uintptr) bool {
	return false
}
