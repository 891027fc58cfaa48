package sys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", TruncateCenter("short", 10))
	assert.Equal(t, "abc...xyz", TruncateCenter("abcdefghuvwxyz", 9))
	assert.Equal(t, "ab", TruncateCenter("abcdef", 2))

	got := TruncateWithPreserve("abcdefghijklmnopqrstuvwxyz", 20, "[", "]")
	assert.Equal(t, "[abcdefg...tuvwxyz]", got)
	assert.Equal(t, "[x]", TruncateWithPreserve("x", 20, "[", "]"))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "1h2m3s", FormatUptime(time.Hour+2*time.Minute+3*time.Second+400*time.Millisecond))
}
