package attrdict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

func TestChanidAlias(t *testing.T) {
	d := attrdict.New()
	d.Set("chanid", "7")

	v, ok := d.Get("channelid")
	require.True(t, ok)
	assert.Equal(t, "7", v)

	d.Set("channelid", "9")
	assert.Len(t, d, 1, "setting the alias must not create a second key")

	v, ok = d.Get("chanid")
	require.True(t, ok)
	assert.Equal(t, "9", v)
}

func TestCaseInsensitiveKeys(t *testing.T) {
	d := attrdict.New()
	d.Set("NickName", "bob")

	v, ok := d.Get("nickname")
	require.True(t, ok)
	assert.Equal(t, "bob", v)
}

func TestMissingKeyAbsent(t *testing.T) {
	d := attrdict.New()
	_, ok := d.Get("nosuchkey")
	assert.False(t, ok)
	assert.Equal(t, "", d.GetDefault("nosuchkey", ""))
}

func TestDelRemovesAlias(t *testing.T) {
	d := attrdict.New()
	d.Set("chanid", "3")
	d.Del("channelid")
	assert.False(t, d.Has("chanid"))
	assert.False(t, d.Has("channelid"))
}

func TestCopyIsIndependent(t *testing.T) {
	d := attrdict.New()
	d.Set("a", "1")
	c := d.Copy()
	c.Set("a", "2")
	assert.Equal(t, "1", d.GetDefault("a", ""))
	assert.Equal(t, "2", c.GetDefault("a", ""))
}

func TestUpdateAppliesAlias(t *testing.T) {
	d := attrdict.New()
	d.Set("channelid", "1")
	src := attrdict.New()
	src.Set("chanid", "2")
	d.Update(src)
	assert.Len(t, d, 1)
	assert.Equal(t, "2", d.GetDefault("channelid", ""))
}
