package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_PlainWhenNotTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Successf("done %d", 3)
	w.Warningf("careful")
	w.Errorf("broken")
	w.Printf("plain %s", "line")

	out := buf.String()
	assert.Contains(t, out, "done 3")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "plain line")
	// A buffer is not a terminal: no ANSI escape codes.
	assert.NotContains(t, out, "\033[")
}

func TestIsTTY_NonFileWriter(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}
