//go:build windows

package logger

// isTerminal always reports false on Windows; output goes uncolored.
// Modern Windows terminals handle ANSI fine, but detection through the
// console API is not worth the dependency for a server binary.
func isTerminal(fd uintptr) bool {
	return false
}
