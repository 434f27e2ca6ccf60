//go:build !devcheck

package devcheck

// Enter is a no-op in the release build.
func Enter(level Level) {}

// Exit is a no-op in the release build.
func Exit(level Level) {}
