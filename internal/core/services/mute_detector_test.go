package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMuteDetectorFirstObservationPrimes(t *testing.T) {
	d := &MuteDetector{}

	assert.False(t, d.Observe(true))
	assert.True(t, d.Muted())
}

func TestMuteDetectorReportsTransitionsOnly(t *testing.T) {
	d := &MuteDetector{}

	d.Observe(false)
	assert.False(t, d.Observe(false))
	assert.True(t, d.Observe(true))
	assert.False(t, d.Observe(true))
	assert.True(t, d.Observe(false))
}

func TestMuteDetectorReset(t *testing.T) {
	d := &MuteDetector{}

	d.Observe(true)
	d.Reset()

	// After a reset the next observation primes again without a change.
	assert.False(t, d.Observe(true))
}
