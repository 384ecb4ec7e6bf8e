package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_BareAmpersand(t *testing.T) {
	assert.Equal(t, "<Doc>FOOD &amp; EVENTS</Doc>", Sanitize("<Doc>FOOD & EVENTS</Doc>"))

	// Existing entities must survive untouched.
	assert.Equal(t, "<Doc>A &amp; B</Doc>", Sanitize("<Doc>A &amp; B</Doc>"))
	assert.Equal(t, "<Doc>&#65; &#x41; &lt;</Doc>", Sanitize("<Doc>&#65; &#x41; &lt;</Doc>"))
}

func TestSanitize_ControlCharsAndGarbage(t *testing.T) {
	in := "garbage\x00before<Doc>a\x01b\tc</Doc>"
	assert.Equal(t, "<Doc>ab\tc</Doc>", Sanitize(in))
}

func TestSanitize_Empty(t *testing.T) {
	assert.Equal(t, "", Sanitize(""))
}

func TestParse_RecoversBareAmpersand(t *testing.T) {
	root, _, err := Parse("<Doc>FOOD & EVENTS</Doc>")
	require.NoError(t, err)
	assert.Equal(t, "FOOD & EVENTS", text(root))
}

func TestParse_ValidPassthrough(t *testing.T) {
	root, sanitized, err := Parse("<Doc><A>x</A></Doc>")
	require.NoError(t, err)
	assert.Equal(t, "Doc", root.Tag)
	assert.Equal(t, "<Doc><A>x</A></Doc>", sanitized)
}

func TestParse_Unrecoverable(t *testing.T) {
	_, _, err := Parse("<Doc><A>x</Doc>")
	require.Error(t, err)
}
