package component

import (
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameSink accepts frames while open is set, and records them.
type frameSink struct {
	*EventDispatcher
	open   bool
	frames [][]byte
	times  []model.VirtualTime
	sim    model.SimContext
}

func makeFrameSink(sim model.SimContext, open bool) *frameSink {
	return &frameSink{
		EventDispatcher: MakeEventDispatcher(sim, "frameSink"),
		open:            open,
		sim:             sim,
	}
}

func (fs *frameSink) CanAcceptPacket() bool {
	return fs.open
}

func (fs *frameSink) SendPacket(frame []byte) {
	if !fs.open {
		panic("sink closed")
	}
	fs.frames = append(fs.frames, frame)
	fs.times = append(fs.times, fs.sim.Now())
}

func (fs *frameSink) setOpen(open bool) {
	fs.open = open
	fs.DispatchLater()
}

func TestTeeDeliversToEverySink(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	a := makeFrameSink(sim, true)
	b := makeFrameSink(sim, false)
	tee := TeePacketSinks(sim, a, b)

	require.True(t, tee.CanAcceptPacket())
	tee.SendPacket([]byte{1, 2})
	assert.Equal(t, [][]byte{{1, 2}}, a.frames)
	assert.Empty(t, b.frames)
	assert.False(t, tee.CanAcceptPacket(), "tee must hold back while a copy is undelivered")

	ready := 0
	tee.Subscribe(func() { ready++ })
	b.setOpen(true)
	sim.Advance(model.TimeZero.Add(time.Nanosecond))
	assert.Equal(t, [][]byte{{1, 2}}, b.frames)
	assert.True(t, tee.CanAcceptPacket())
	assert.Equal(t, 1, ready)

	tee.SendPacket([]byte{3})
	assert.Len(t, a.frames, 2)
	assert.Len(t, b.frames, 2)
}

func TestMeteredSinkPacesFrames(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	under := makeFrameSink(sim, true)
	meter := MakeMeteredSink(sim, under, 4, 10*time.Nanosecond)

	pump := func() {
		for len(under.frames) < 4 && meter.CanAcceptPacket() {
			meter.SendPacket([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		}
	}
	meter.Subscribe(pump)
	pump()
	sim.Advance(model.TimeZero.Add(100 * time.Nanosecond))

	require.Len(t, under.times, 4)
	// each 8-byte frame costs two 4-byte refills
	for i, at := range under.times {
		assert.Equal(t, model.TimeZero.Add(time.Duration(20*i)*time.Nanosecond), at, "frame %d", i)
	}
}

func TestMeteredSinkFollowsUnderlyingSink(t *testing.T) {
	sim := MakeSimControllerSeeded(1, model.TimeZero)
	under := makeFrameSink(sim, false)
	meter := MakeMeteredSink(sim, under, 100, 10*time.Nanosecond)
	assert.False(t, meter.CanAcceptPacket())

	woken := false
	meter.Subscribe(func() { woken = true })
	under.setOpen(true)
	sim.Advance(model.TimeZero.Add(time.Nanosecond))
	assert.True(t, woken)
	assert.True(t, meter.CanAcceptPacket())
}
