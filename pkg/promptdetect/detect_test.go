package promptdetect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPromptOnly(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"dollar prompt", "$ ", true},
		{"hash prompt", "# ", true},
		{"zsh percent", "% ", true},
		{"powerline arrow", "➜ ", true},
		{"nerdfont arrow", "❯ ", true},
		{"with trailing csi", "$ \x1b[0m", true},
		{"bracketed identity prefix", "[user@host] $", true},
		{"not a prompt", "hello world", false},
		{"empty", "", false},
		{"multiple symbols", "$$ ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPromptOnly(tc.in))
		})
	}
}

func TestEndsWithPrompt(t *testing.T) {
	assert.True(t, EndsWithPrompt("some output\n$ "))
	assert.True(t, EndsWithPrompt("some output\n$ \x1b[0m"))
	assert.False(t, EndsWithPrompt("still running..."))
	assert.False(t, EndsWithPrompt(""))
}

func TestShellKindOf(t *testing.T) {
	assert.Equal(t, ShellBash, ShellKindOf("$ "))
	assert.Equal(t, ShellZsh, ShellKindOf("%"))
	assert.Equal(t, ShellFish, ShellKindOf("➜"))
	assert.Equal(t, ShellRoot, ShellKindOf("#"))
	assert.Equal(t, ShellNull, ShellKindOf(""))
	assert.Equal(t, ShellNull, ShellKindOf("not a prompt"))
}

// The LRU cache must not change the answer it would give uncached, even
// after it has been forced to evict early entries.
func TestCacheConsistency(t *testing.T) {
	for i := 0; i < 1000; i++ {
		s := fmt.Sprintf("line-%d $ ", i)
		want := computeIsPromptOnly(s)
		got := IsPromptOnly(s)
		assert.Equal(t, want, got, "mismatch for %q", s)
	}
	assert.Equal(t, computeIsPromptOnly("line-0 $ "), IsPromptOnly("line-0 $ "))
}
