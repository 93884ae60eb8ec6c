package services

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graceRecorder struct {
	pauses     atomic.Int32
	resumes    atomic.Int32
	teardowns  atomic.Int32
	reannounce atomic.Int32
}

func newGraceFixture(gracePeriod time.Duration) (*GraceService, *graceRecorder) {
	rec := &graceRecorder{}
	svc := NewGraceService(gracePeriod, nil, testLogger())
	svc.Bind(
		func() { rec.pauses.Add(1) },
		func() { rec.resumes.Add(1) },
		func() { rec.teardowns.Add(1) },
		func() { rec.reannounce.Add(1) },
	)
	return svc, rec
}

func TestIntentionalDisconnectTearsDownImmediately(t *testing.T) {
	svc, rec := newGraceFixture(time.Hour)

	svc.TransportDown(true)

	assert.Equal(t, GraceTornDown, svc.State())
	assert.Equal(t, int32(1), rec.teardowns.Load())
	assert.Equal(t, int32(0), rec.pauses.Load())
}

func TestAccidentalDisconnectPausesAndStartsGrace(t *testing.T) {
	svc, rec := newGraceFixture(time.Hour)

	svc.TransportDown(false)

	assert.Equal(t, GraceTransportDown, svc.State())
	assert.Equal(t, int32(1), rec.pauses.Load())
	assert.Equal(t, int32(0), rec.teardowns.Load())
}

func TestRecoveryWithinGraceResumesAndReannounces(t *testing.T) {
	svc, rec := newGraceFixture(time.Hour)

	svc.TransportDown(false)
	svc.TransportUp()

	assert.Equal(t, GraceTransportUp, svc.State())
	assert.Equal(t, int32(1), rec.resumes.Load())
	assert.Equal(t, int32(1), rec.reannounce.Load())
	assert.Equal(t, int32(0), rec.teardowns.Load())

	// Timer was cancelled; nothing fires later.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), rec.teardowns.Load())
}

func TestGraceExpiryTearsDown(t *testing.T) {
	svc, rec := newGraceFixture(10 * time.Millisecond)

	svc.TransportDown(false)

	require.Eventually(t, func() bool {
		return svc.State() == GraceTornDown
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), rec.teardowns.Load())

	// A late recovery changes nothing.
	svc.TransportUp()
	assert.Equal(t, GraceTornDown, svc.State())
	assert.Equal(t, int32(0), rec.resumes.Load())
}

func TestRepeatedDownEventsDoNotExtendGrace(t *testing.T) {
	svc, rec := newGraceFixture(30 * time.Millisecond)

	svc.TransportDown(false)
	time.Sleep(15 * time.Millisecond)
	// A second down event must not restart the window.
	svc.TransportDown(false)

	require.Eventually(t, func() bool {
		return svc.State() == GraceTornDown
	}, 25*time.Millisecond, time.Millisecond)
	assert.Equal(t, int32(1), rec.pauses.Load())
	assert.Equal(t, int32(1), rec.teardowns.Load())
}

func TestResetReturnsToLiveState(t *testing.T) {
	svc, _ := newGraceFixture(time.Hour)

	svc.TransportDown(true)
	require.Equal(t, GraceTornDown, svc.State())

	svc.Reset()
	assert.Equal(t, GraceTransportUp, svc.State())
}
