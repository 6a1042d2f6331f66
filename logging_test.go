package rigid

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerLevels(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewLogger("rigid", false, &out, &errOut)

	l.Debugf("hidden %d", 1)
	assert.Empty(t, out.String())

	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
	l.Debugf("shown %d", 2)
	l.Infof("tick %d", 3)
	assert.Contains(t, out.String(), "[rigid] DEBUG: shown 2")
	assert.Contains(t, out.String(), "[rigid] INFO: tick 3")

	l.Warnf("careful")
	l.Errorf("broken")
	assert.Contains(t, errOut.String(), "[rigid] WARN: careful")
	assert.Contains(t, errOut.String(), "[rigid] ERROR: broken")
	assert.NotContains(t, out.String(), "WARN")
}

func TestRejectedMutationsAreLogged(t *testing.T) {
	var out, errOut bytes.Buffer
	w, err := NewWorld(DefaultWorldConfig(), NewLogger("", true, &out, &errOut))
	require.NoError(t, err)
	m, err := w.AddPart(newBoxPart(0, 0, 0), false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "DEBUG: added tree with 1 parts")

	_, err = m.Main().Detach()
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, errOut.String(), "WARN: detach physical rejected")
}

func TestNilWorldLogger(t *testing.T) {
	var w *World
	l := w.Logger()
	require.NotNil(t, l)
	assert.False(t, l.DebugEnabled())
	l.Errorf("dropped")
}
