package util

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestOptionsFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("ttl", "90s")
	viper.Set("extend-on-update", true)
	viper.Set("extend-on-fetch", false)
	viper.Set("meta-codec", "cbor")
	viper.Set("codec", "json")
	viper.Set("compress", "zstd")
	viper.Set("path", "/tmp/ttlkv-test.db")
	viper.Set("no-sync", true)

	opts, err := GetExpiringOptions()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, opts.ExpirationLength)
	assert.True(t, opts.ExtendOnUpdate)
	assert.False(t, opts.ExtendOnFetch)
	assert.Equal(t, codec.FormatCBOR, opts.MetadataFormat)

	c, err := GetValueCodec()
	require.NoError(t, err)
	assert.Equal(t, codec.Format("json+zstd"), c.Format())

	dbOpts := GetDBOptions()
	assert.Equal(t, "/tmp/ttlkv-test.db", dbOpts.Path)
	assert.True(t, dbOpts.NoSync)

	viper.Set("codec", "binary")
	_, err = GetValueCodec()
	assert.Error(t, err, "strings can't use the binary format")

	viper.Set("meta-codec", "xml")
	_, err = GetExpiringOptions()
	assert.Error(t, err)
}
