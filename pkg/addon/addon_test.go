package addon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/Lingua/pkg/errors"
	"github.com/turtacn/Lingua/pkg/protocol"
)

func TestNew(t *testing.T) {
	a, err := New("plugin.video.demo", "Demo", "1.4.2")
	require.NoError(t, err)
	assert.Equal(t, "plugin.video.demo@1.4.2", a.String())

	ok, err := a.Satisfies(">= 1.2, < 2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("", "Demo", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAddonInvalid, errors.CodeOf(err))

	_, err = New("plugin.demo", "Demo", "not-a-version")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAddonInvalid, errors.CodeOf(err))
}

func TestFromConfig(t *testing.T) {
	a, err := FromConfig(protocol.AddonConfig{
		ID:       "plugin.demo",
		Name:     "Demo",
		Version:  "2.0.0",
		Script:   "demo.tengo",
		Args:     []string{"a"},
		Reusable: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "demo.tengo", a.Script)
	assert.Equal(t, []string{"a"}, a.Args)
	assert.True(t, a.Reusable)
}

func TestString_Nil(t *testing.T) {
	var a *Addon
	assert.Equal(t, "<none>", a.String())
}
