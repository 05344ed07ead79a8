package component

import (
	"bytes"
	"testing"

	"github.com/celskeggs/ethsim/sim/model"
	"github.com/google/go-cmp/cmp"
)

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error {
	return nil
}

func TestTraceRoundTrip(t *testing.T) {
	buf := nopCloser{&bytes.Buffer{}}
	r, err := MakeCSVTraceRecorder(buf)
	if err != nil {
		t.Fatal(err)
	}
	entries := []TraceEntry{
		{Cycle: 3, Timestamp: 30, Channel: "dut.sink", First: true, Mask: 0x0F, Bytes: []byte{0, 1, 2, 3}},
		{Cycle: 4, Timestamp: 40, Channel: "dut.sink", Mask: 0x0F, Bytes: []byte{4, 5, 6, 7}},
		{Cycle: 9, Timestamp: 90, Channel: "dut.sink", Last: true, Mask: 0x03, Bytes: []byte{8, 9}},
	}
	for _, e := range entries {
		r.Record(e)
	}
	if r.Count() != len(entries) {
		t.Errorf("wrong count %d", r.Count())
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeTrace(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(entries, decoded); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestNullRecorderDiscards(t *testing.T) {
	r := MakeNullTraceRecorder()
	if r.IsRecording() {
		t.Error("null recorder should not be recording")
	}
	r.Record(TraceEntry{Channel: "x", Timestamp: model.TimeZero})
	if r.Count() != 0 {
		t.Error("null recorder should not count entries")
	}
	if err := r.Close(); err != nil {
		t.Error(err)
	}
}
