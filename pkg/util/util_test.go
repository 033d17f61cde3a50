package util_test

import (
	"testing"

	"lintang/railroute/pkg/util"

	"github.com/stretchr/testify/assert"
)

func TestLerp(t *testing.T) {
	assert.Equal(t, 50.0, util.Lerp(0.0, 100.0, 0.5))
	assert.Equal(t, 10.0, util.Lerp(10.0, 20.0, 0))
	assert.Equal(t, float32(20), util.Lerp(float32(10), float32(20), 1))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, util.Clamp(3.0, -1.0, 1.0))
	assert.Equal(t, -1.0, util.Clamp(-3.0, -1.0, 1.0))
	assert.Equal(t, 4, util.Clamp(4, 0, 10))
}

func TestRoundFloat(t *testing.T) {
	assert.Equal(t, 1.23, util.RoundFloat(1.23456, 2))
}
