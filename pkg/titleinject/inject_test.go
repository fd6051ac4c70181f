package titleinject

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInputTracksCd(t *testing.T) {
	in := New(ModeDynamic, "/home/user/project", []string{"/bin/bash"}, "")
	in.ObserveInput("cd sub/dir\n")
	assert.Equal(t, "/home/user/project/sub/dir", in.Cwd())

	in.ObserveInput("cd ..\n")
	assert.Equal(t, "/home/user/project/sub", in.Cwd())

	in.ObserveInput("cd /etc\n")
	assert.Equal(t, "/etc", in.Cwd())
}

func TestObserveInputCdHome(t *testing.T) {
	os.Setenv("HOME", "/home/user")
	defer os.Unsetenv("HOME")

	in := New(ModeDynamic, "/tmp", nil, "")
	in.ObserveInput("cd\n")
	assert.Equal(t, "/home/user", in.Cwd())

	in.ObserveInput("cd /tmp\n")
	in.ObserveInput("cd ~/work\n")
	assert.Equal(t, "/home/user/work", in.Cwd())
}

func TestObserveInputIgnoresNonCd(t *testing.T) {
	in := New(ModeDynamic, "/tmp", nil, "")
	in.ObserveInput("ls -la\n")
	assert.Equal(t, "/tmp", in.Cwd())
}

func TestObserveInputQuotedArg(t *testing.T) {
	in := New(ModeDynamic, "/tmp", nil, "")
	in.ObserveInput(`cd "my dir"` + "\n")
	assert.Equal(t, "/tmp/my dir", in.Cwd())
}

func TestObserveOutputOnlyInjectsInDynamicMode(t *testing.T) {
	in := New(ModeStatic, "/tmp", []string{"bash"}, "")
	out := in.ObserveOutput([]byte("foo\n$ "))
	assert.Equal(t, "foo\n$ ", string(out))
}

func TestObserveOutputInjectsAtPromptBoundary(t *testing.T) {
	in := New(ModeDynamic, "/home/user", []string{"/bin/bash"}, "")
	out := in.ObserveOutput([]byte("foo\n$ "))
	require.True(t, strings.HasPrefix(string(out), "\x1b]2;"))
	require.True(t, strings.HasSuffix(string(out), "\x07foo\n$ "))
}

func TestObserveOutputNoInjectionMidStream(t *testing.T) {
	in := New(ModeDynamic, "/tmp", []string{"bash"}, "")
	out := in.ObserveOutput([]byte("still running"))
	assert.Equal(t, "still running", string(out))
}

func TestRedundantSessionNameSuppressed(t *testing.T) {
	in := New(ModeDynamic, "/tmp", []string{"/usr/bin/vim"}, "vim")
	assert.True(t, in.redundantSessionName())

	in2 := New(ModeDynamic, "/tmp", []string{"/usr/bin/vim"}, "vim · vim")
	assert.True(t, in2.redundantSessionName())

	in3 := New(ModeDynamic, "/tmp", []string{"/usr/bin/vim"}, "vim (readme.md)")
	assert.True(t, in3.redundantSessionName())

	in4 := New(ModeDynamic, "/tmp", []string{"/usr/bin/vim"}, "my editor")
	assert.False(t, in4.redundantSessionName())
}

func TestDisplayPathHomeSubstitution(t *testing.T) {
	os.Setenv("HOME", "/home/user")
	defer os.Unsetenv("HOME")
	assert.Equal(t, "~", displayPath("/home/user"))
	assert.Equal(t, "~/project", displayPath("/home/user/project"))
	assert.Equal(t, "/etc", displayPath("/etc"))
}
