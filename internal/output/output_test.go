package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestStageColor(t *testing.T) {
	// Colors are disabled in tests; the text must pass through untouched.
	for _, stage := range []string{"empty", "has_spec", "reviewed", "approved", "devops_linked", "weird"} {
		assert.Contains(t, StageColor(stage), stage)
	}
}

func TestJobStatusColor(t *testing.T) {
	for _, status := range []string{"pending", "running", "completed", "timeout", "failed", "weird"} {
		assert.Contains(t, JobStatusColor(status), status)
	}
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"ID", "STAGE"})
	require.NoError(t, table.Append([]string{"abc", "approved"}))
	require.NoError(t, table.Render())

	s := out.String()
	assert.Contains(t, strings.ToUpper(s), "STAGE")
	assert.Contains(t, s, "abc")
}
