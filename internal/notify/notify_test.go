package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_PassesTitleAndMessage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "alert.txt")
	n := New("sh", []string{"-c", `printf '%s|%s' "$1" "$2" > ` + out, "sh"})

	require.NoError(t, n.Send("critical finding", "workflow wf_1 stub marker"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "critical finding|workflow wf_1 stub marker", string(data))
}

func TestCommand_FailureIncludesOutput(t *testing.T) {
	n := New("sh", []string{"-c", "echo hook down >&2; exit 1"})
	err := n.Send("t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook down")
}

func TestNew_DefaultsToDesktop(t *testing.T) {
	_, ok := New("", nil).(*Desktop)
	assert.True(t, ok)
}

func TestEscapeAppleScript(t *testing.T) {
	assert.Equal(t, `say \"hi\"`, escapeAppleScript(`say "hi"`))
	assert.Equal(t, `back\\slash`, escapeAppleScript(`back\slash`))
}
