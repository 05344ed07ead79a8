package component

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/celskeggs/ethsim/sim/model"
	"github.com/hashicorp/go-multierror"
)

var traceHeader = []string{"Cycle", "Nanoseconds", "Channel", "Flags", "Mask", "Hex Bytes"}

// TraceEntry is one committed transfer on a named channel.
type TraceEntry struct {
	Cycle     model.Cycle
	Timestamp model.VirtualTime
	Channel   string
	First     bool
	Last      bool
	Mask      uint8
	Bytes     []byte
}

func (e TraceEntry) flags() string {
	flags := ""
	if e.First {
		flags += "F"
	}
	if e.Last {
		flags += "L"
	}
	if flags == "" {
		flags = "-"
	}
	return flags
}

type CSVTraceRecorder struct {
	output *csv.Writer
	closer io.Closer
	err    error
	count  int
}

func (r *CSVTraceRecorder) IsRecording() bool {
	return r.output != nil
}

// Count reports how many entries have been recorded so far.
func (r *CSVTraceRecorder) Count() int {
	return r.count
}

func (r *CSVTraceRecorder) Record(entry TraceEntry) {
	if entry.Channel == "" {
		panic("invalid empty channel name")
	}
	if r.output == nil || r.err != nil {
		// not recording, or already failed; discard
		return
	}
	r.count += 1
	err := r.output.Write([]string{
		strconv.FormatUint(uint64(entry.Cycle), 10),
		strconv.FormatUint(entry.Timestamp.Nanoseconds(), 10),
		entry.Channel,
		entry.flags(),
		fmt.Sprintf("%02x", entry.Mask),
		hex.EncodeToString(entry.Bytes),
	})
	if err != nil {
		r.err = err
	}
}

// Close flushes the trace and reports the first error encountered while recording, if any.
func (r *CSVTraceRecorder) Close() (re error) {
	if r.output == nil {
		return nil
	}
	r.output.Flush()
	if r.err != nil {
		re = multierror.Append(re, r.err)
	}
	if err := r.output.Error(); err != nil {
		re = multierror.Append(re, err)
	}
	if err := r.closer.Close(); err != nil {
		re = multierror.Append(re, err)
	}
	r.output = nil
	return re
}

func MakeNullTraceRecorder() *CSVTraceRecorder {
	return &CSVTraceRecorder{
		output: nil,
	}
}

func MakeCSVTraceRecorder(w io.WriteCloser) (*CSVTraceRecorder, error) {
	cw := csv.NewWriter(w)
	err := cw.Write(traceHeader)
	cw.Flush()
	if err == nil {
		err = cw.Error()
	}
	if err != nil {
		return nil, err
	}
	return &CSVTraceRecorder{
		output: cw,
		closer: w,
	}, nil
}

func MakeCSVTraceRecorderAt(path string) (*CSVTraceRecorder, error) {
	w, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := MakeCSVTraceRecorder(w)
	if err != nil {
		if cerr := w.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return nil, err
	}
	return r, nil
}

func parseFlags(flags string) (first, last bool, err error) {
	if flags == "-" {
		return false, false, nil
	}
	for _, ch := range flags {
		switch ch {
		case 'F':
			first = true
		case 'L':
			last = true
		default:
			return false, false, fmt.Errorf("invalid flags: %q", flags)
		}
	}
	return first, last, nil
}

func DecodeTrace(r io.Reader) (entries []TraceEntry, err error) {
	recordsRaw, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recordsRaw) < 1 {
		return nil, errors.New("no header found")
	}
	if len(recordsRaw[0]) != len(traceHeader) {
		return nil, fmt.Errorf("invalid header: %v", recordsRaw[0])
	}
	for i, column := range traceHeader {
		if recordsRaw[0][i] != column {
			return nil, fmt.Errorf("invalid header: %v", recordsRaw[0])
		}
	}
	for _, record := range recordsRaw[1:] {
		if len(record) != len(traceHeader) {
			return nil, fmt.Errorf("invalid data record: %v", record)
		}
		cycle, err := strconv.ParseUint(record[0], 10, 64)
		if err != nil {
			return nil, err
		}
		timestampNS, err := strconv.ParseUint(record[1], 10, 64)
		if err != nil {
			return nil, err
		}
		timestamp, ok := model.FromNanoseconds(timestampNS)
		if !ok {
			return nil, fmt.Errorf("invalid timestamp: %v", record[1])
		}
		channel := record[2]
		if channel == "" {
			return nil, errors.New("invalid empty string channel")
		}
		first, last, err := parseFlags(record[3])
		if err != nil {
			return nil, err
		}
		mask, err := strconv.ParseUint(record[4], 16, 8)
		if err != nil {
			return nil, err
		}
		dataBytes, err := hex.DecodeString(record[5])
		if err != nil {
			return nil, err
		}
		entries = append(entries, TraceEntry{
			Cycle:     model.Cycle(cycle),
			Timestamp: timestamp,
			Channel:   channel,
			First:     first,
			Last:      last,
			Mask:      uint8(mask),
			Bytes:     dataBytes,
		})
	}
	return entries, nil
}

func DecodeTraceFile(path string) (entries []TraceEntry, re error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			re = multierror.Append(re, err)
		}
	}()
	return DecodeTrace(r)
}
