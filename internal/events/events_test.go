package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultList(t *testing.T) {
	mask, err := Parse(DefaultList)
	require.NoError(t, err)

	assert.Equal(t, Delete|Create|CloseWrite|Modify|MovedFrom|MovedTo, mask)
	assert.False(t, mask.Has(Access))
	assert.False(t, mask.Has(DeleteSelf))
}

func TestParseComposites(t *testing.T) {
	cases := []struct {
		list string
		want Mask
	}{
		{"close", CloseWrite | CloseNoWrite},
		{"move", MovedFrom | MovedTo},
		{"close_write,close_nowrite", Close},
		{"moved_from, moved_to", Move},
		{"access,access", Access},
		{"delete_self", 0x400},
	}

	for _, tc := range cases {
		got, err := Parse(tc.list)
		require.NoError(t, err, tc.list)
		assert.Equal(t, tc.want, got, tc.list)
	}
}

func TestParseUnknownEvent(t *testing.T) {
	_, err := Parse("create,bogus")
	require.ErrorIs(t, err, ErrUnknownEvent)
	assert.Contains(t, err.Error(), `"bogus"`)

	_, err = Parse("create,")
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("  ")
	require.ErrorIs(t, err, ErrNoEvents)
}

func TestMaskNames(t *testing.T) {
	assert.Equal(t, []string{"modify", "close_write", "create"}, (Create | CloseWrite | Modify).Names())
	assert.Equal(t, "moved_from,moved_to", Move.String())
	assert.Equal(t, "none", Mask(0).String())
}

func TestLookupCoversAllNames(t *testing.T) {
	for _, name := range Names() {
		m, ok := Lookup(name)
		assert.True(t, ok, name)
		assert.NotZero(t, m, name)
	}
	assert.Len(t, Names(), 13)
}
