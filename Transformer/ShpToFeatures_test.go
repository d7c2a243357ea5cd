package Transformer

import (
	"testing"

	"gitee.com/LJ_COOL/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPoints(t *testing.T) {
	points := []shp.Point{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}

	t.Run("single part", func(t *testing.T) {
		parts := SplitPoints(points, []int32{0})
		require.Len(t, parts, 1)
		assert.Len(t, parts[0], 5)
	})

	t.Run("two parts", func(t *testing.T) {
		parts := SplitPoints(points, []int32{0, 3})
		require.Len(t, parts, 2)
		assert.Len(t, parts[0], 3)
		assert.Len(t, parts[1], 2)
	})
}

func TestTechnIDPrefersObjectID(t *testing.T) {
	assert.Equal(t, "17", technID("upload:q", 4, map[string]interface{}{"objectid": "17"}))
	assert.Equal(t, "upload:q-4", technID("upload:q", 4, map[string]interface{}{"name": "x"}))
}

func TestDecodeTextKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "Straße", decodeText("Straße", "ISO-8859-1"))
	assert.Equal(t, "plain", decodeText("plain", ""))
}
