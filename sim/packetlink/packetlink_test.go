package packetlink

import (
	"bytes"
	"testing"
	"time"

	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
)

type fixedStamp struct {
	ctx model.SimContext
}

func (f fixedStamp) Now() model.VirtualTime {
	return f.ctx.Now()
}

func (f fixedStamp) Cycle() model.Cycle {
	return 5
}

type bufferCloser struct {
	bytes.Buffer
}

func (*bufferCloser) Close() error {
	return nil
}

func drain(q *Queue) [][]byte {
	var out [][]byte
	for q.HasPacketAvailable() {
		out = append(out, q.ReceivePacket())
	}
	return out
}

func TestPatchMovesFramesInOrder(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	source := MakeQueue(sim, 0)
	sink := MakeQueue(sim, 2)
	var tapped [][]byte
	PatchLinks(sim, TapSource(source, func(frame []byte) {
		tapped = append(tapped, frame)
	}), sink)

	source.SendPacket([]byte{1})
	source.SendPacket([]byte{2})
	source.SendPacket([]byte{3})
	sim.Advance(model.TimeZero.Add(time.Nanosecond))
	if sink.Len() != 2 || source.Len() != 1 {
		t.Fatalf("expected the sink to fill to capacity: sink=%d source=%d", sink.Len(), source.Len())
	}
	first := drain(sink)
	sim.Advance(model.TimeZero.Add(2 * time.Nanosecond))
	rest := drain(sink)
	got := append(first, rest...)
	if len(got) != 3 || len(tapped) != 3 {
		t.Fatalf("expected three frames, got %d (tapped %d)", len(got), len(tapped))
	}
	for i, frame := range got {
		if !bytes.Equal(frame, []byte{byte(i + 1)}) || !bytes.Equal(tapped[i], frame) {
			t.Errorf("frame %d out of order: %v / %v", i, frame, tapped[i])
		}
	}
}

func TestRecordWire(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1, model.TimeZero)
	buf := &bufferCloser{}
	rec, err := component.MakeCSVTraceRecorder(buf)
	if err != nil {
		t.Fatal(err)
	}
	q := MakeQueue(sim, 0)
	wire := RecordWire(rec, fixedStamp{sim}, "rx", "tx", q.Wire())
	wire.Sink.SendPacket([]byte{0xAA, 0xBB})
	wire.Source.ReceivePacket()
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	entries, err := component.DecodeTrace(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Channel != "tx" || entries[1].Channel != "rx" || entries[0].Cycle != 5 {
		t.Errorf("unexpected entries %+v", entries)
	}
	if !bytes.Equal(entries[1].Bytes, []byte{0xAA, 0xBB}) || !entries[1].First || !entries[1].Last {
		t.Errorf("unexpected entry %+v", entries[1])
	}

	null := component.MakeNullTraceRecorder()
	if RecordSink(null, fixedStamp{sim}, "x", q) != model.PacketSink(q) {
		t.Error("null recorder should not wrap the sink")
	}
}
