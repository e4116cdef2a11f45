package util

import (
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestCleanFilename(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal("Hello World - Part 1.5", CleanFilename("Hello World - Part 1.5"))
	assert.Equal("What is this", CleanFilename("What is this?!/\\:*\"<>|"))
	assert.Equal("Caf au lait", CleanFilename("Café au lait"))
	assert.Equal("", CleanFilename("日本語"))
	assert.Equal("a_b+c", CleanFilename("a_b+c"))

	long := strings.Repeat("x", 300)
	assert.Len(CleanFilename(long), 128)
	// Truncation counts kept characters, not input characters
	assert.Equal(strings.Repeat("y", 128), CleanFilename(strings.Repeat("?y", 200)))
}
