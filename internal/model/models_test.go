package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVisibility(t *testing.T) {
	v, err := ParseVisibility("private")
	require.NoError(t, err)
	assert.Equal(t, Private, v)

	v, err = ParseVisibility("public")
	require.NoError(t, err)
	assert.Equal(t, Public, v)

	_, err = ParseVisibility("internal")
	assert.Error(t, err)
}

func TestVisibility_Opposite(t *testing.T) {
	assert.Equal(t, Public, Private.Opposite())
	assert.Equal(t, Private, Public.Opposite())
	assert.True(t, Private.IsPrivate())
	assert.Equal(t, Private, VisibilityOf(true))
	assert.Equal(t, Public, VisibilityOf(false))
}
