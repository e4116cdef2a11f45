package util

import "strings"

const (
	filenameAllowed   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz1234567890-_+. "
	filenameMaxLength = 128
)

// CleanFilename drops every character outside a conservative allow-list and truncates the result, so that the output
// is safe to use as a single path element on any filesystem.
func CleanFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		if b.Len() >= filenameMaxLength {
			break
		}
		if strings.ContainsRune(filenameAllowed, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
