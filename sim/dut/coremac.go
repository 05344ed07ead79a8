package dut

import (
	"fmt"

	"github.com/celskeggs/ethsim/sim/clock"
	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Width of the Sink and Source words in bytes.
	Width  int
	Masked bool
	// HardwareFraming makes the device insert preamble, SFD and FCS on transmit and check and strip them on receive.
	HardwareFraming bool
	// FIFOBytes bounds the transmit buffer; Sink deasserts ready when another word would not fit behind the frames
	// already queued.
	FIFOBytes int
	// InterFrameGap is the number of idle cycles on the TX pins after each frame.
	InterFrameGap int
}

func DefaultConfig() Config {
	return Config{
		Width:           4,
		Masked:          true,
		HardwareFraming: true,
		FIFOBytes:       2048,
		InterFrameGap:   ethmac.InterFrameGap,
	}
}

type Stats struct {
	TxFrames    uint64 `json:"tx_frames"`
	TxDropped   uint64 `json:"tx_dropped"`
	RxFrames    uint64 `json:"rx_frames"`
	RxCRCErrors uint64 `json:"rx_crc_errors"`
	RxMalformed uint64 `json:"rx_malformed"`
}

// CoreMAC is a software model of a MAC core: a wide transmit path feeding byte-serial TX pins through a buffer, and
// byte-serial RX pins feeding a wide receive path through a store-and-forward buffer. Frames with a bad FCS or framing
// are dropped on receive when the core handles framing.
type CoreMAC struct {
	name   string
	ctx    model.SimContext
	config Config

	sink   *stream.Port
	source *stream.Port

	tx *txPath
	rx *rxPath
}

var _ DUT = &CoreMAC{}

// NewCoreMAC builds the core against the PHY pin ports: it produces onto txPins and consumes from rxPins.
func NewCoreMAC(ctx model.SimContext, name string, config Config, txPins, rxPins *stream.Port) *CoreMAC {
	if err := stream.ValidateWidth(config.Width); err != nil {
		panic(err.Error())
	}
	if config.FIFOBytes < config.Width {
		panic(fmt.Sprintf("fifo of %d bytes cannot hold one %d-byte word", config.FIFOBytes, config.Width))
	}
	c := &CoreMAC{
		name:   name,
		ctx:    ctx,
		config: config,
		sink:   stream.MakePort(name+".sink", config.Width, config.Masked),
		source: stream.MakePort(name+".source", config.Width, config.Masked),
	}
	c.sink.BindConsumer(name)
	c.source.BindProducer(name)
	txPins.BindProducer(name)
	rxPins.BindConsumer(name)
	c.tx = &txPath{core: c, pins: txPins}
	c.rx = &rxPath{core: c, pins: rxPins}
	return c
}

func (c *CoreMAC) Name() string {
	return c.name
}

func (c *CoreMAC) Sink() *stream.Port {
	return c.sink
}

func (c *CoreMAC) Source() *stream.Port {
	return c.source
}

func (c *CoreMAC) HandlesFraming() bool {
	return c.config.HardwareFraming
}

func (c *CoreMAC) Attach(o *clock.Orchestrator) {
	o.AttachPort(c.sink)
	o.AttachPort(c.source)
	o.Attach(DomainTX, c.tx)
	o.Attach(DomainRX, c.rx)
}

func (c *CoreMAC) Stats() Stats {
	return Stats{
		TxFrames:    c.tx.frames,
		TxDropped:   c.tx.dropped,
		RxFrames:    c.rx.frames,
		RxCRCErrors: c.rx.crcErrors,
		RxMalformed: c.rx.malformed,
	}
}

// BufferedBytes is the number of bytes held inside the core, for timeout diagnostics.
func (c *CoreMAC) BufferedBytes() int {
	return c.tx.buffered() + c.rx.buffered()
}

func (c *CoreMAC) String() string {
	s := c.Stats()
	return fmt.Sprintf("%s[tx=%d rx=%d crc=%d malformed=%d buffered=%d]",
		c.name, s.TxFrames, s.RxFrames, s.RxCRCErrors, s.RxMalformed, c.BufferedBytes())
}

type txPath struct {
	core *CoreMAC
	pins *stream.Port

	partial []byte
	queued  [][]byte
	size    int

	beats   *stream.Serializer
	current stream.Beat
	loaded  bool
	gap     int

	frames  uint64
	dropped uint64
}

func (t *txPath) buffered() int {
	return t.size + len(t.partial)
}

func (t *txPath) Reset() {
	t.core.sink.SetReady(false)
	t.pins.Withdraw()
	t.partial = nil
	t.queued = nil
	t.size = 0
	t.beats = nil
	t.loaded = false
	t.gap = 0
}

func (t *txPath) Drive() {
	// an empty queue always accepts, so a frame larger than the buffer can still pass
	t.core.sink.SetReady(len(t.queued) == 0 || t.buffered()+t.core.config.Width <= t.core.config.FIFOBytes)

	if !t.loaded {
		if t.gap > 0 {
			t.gap -= 1
		} else {
			if (t.beats == nil || !t.beats.Pending()) && len(t.queued) > 0 {
				frame := t.queued[0]
				t.queued = t.queued[1:]
				t.size -= len(frame)
				t.beats = stream.NewSerializer(t.pins.Width(), t.pins.Masked(), packet.New(frame))
			}
			if t.beats != nil {
				t.current, t.loaded = t.beats.Next()
			}
		}
	}
	if t.loaded {
		t.pins.Present(t.current)
	} else {
		t.pins.Withdraw()
	}
}

func (t *txPath) Clock() {
	if b, fired := t.core.sink.Fired(); fired {
		t.partial = append(t.partial, b.Bytes()...)
		if b.Last {
			t.enqueue(t.partial)
			t.partial = nil
		}
	}
	if b, fired := t.pins.Fired(); fired {
		t.loaded = false
		if b.Last {
			t.frames += 1
			t.gap = t.core.config.InterFrameGap
		}
	}
}

func (t *txPath) enqueue(frame []byte) {
	if t.core.config.HardwareFraming {
		framed, err := ethmac.Generate(packet.New(frame), ethmac.WireOptions())
		if err != nil {
			log.Warnf("%v [%s] dropping transmit frame: %v", t.core.ctx.Now(), t.core.name, err)
			t.dropped += 1
			return
		}
		frame = framed
	}
	t.queued = append(t.queued, frame)
	t.size += len(frame)
}

type rxPath struct {
	core *CoreMAC
	pins *stream.Port

	assembler stream.Assembler
	ready     []packet.Packet
	size      int

	beats   *stream.Serializer
	current stream.Beat
	loaded  bool

	frames    uint64
	crcErrors uint64
	malformed uint64
}

func (r *rxPath) buffered() int {
	return r.size + r.assembler.Partial()
}

func (r *rxPath) Reset() {
	r.pins.SetReady(false)
	r.core.source.Withdraw()
	r.assembler.Reset()
	r.ready = nil
	r.size = 0
	r.beats = nil
	r.loaded = false
}

func (r *rxPath) Drive() {
	r.pins.SetReady(true)

	if !r.loaded {
		if (r.beats == nil || !r.beats.Pending()) && len(r.ready) > 0 {
			p := r.ready[0]
			r.ready = r.ready[1:]
			r.size -= p.Len()
			r.beats = stream.NewSerializer(r.core.config.Width, r.core.source.Masked(), p)
		}
		if r.beats != nil {
			r.current, r.loaded = r.beats.Next()
		}
	}
	if r.loaded {
		r.core.source.Present(r.current)
	} else {
		r.core.source.Withdraw()
	}
}

func (r *rxPath) Clock() {
	if b, fired := r.pins.Fired(); fired {
		if frame, complete := r.assembler.Push(b); complete {
			r.receive(frame)
		}
	}
	if b, fired := r.core.source.Fired(); fired {
		r.loaded = false
		if b.Last {
			r.frames += 1
		}
	}
}

func (r *rxPath) receive(frame packet.Packet) {
	if r.core.config.HardwareFraming {
		result := ethmac.Check(frame.Bytes(), ethmac.WireOptions())
		switch result.Status {
		case ethmac.StatusCRCError:
			r.crcErrors += 1
		case ethmac.StatusMalformed:
			r.malformed += 1
		}
		if result.Status != ethmac.StatusValid {
			log.Warnf("%v [%s] dropping received frame: %v", r.core.ctx.Now(), r.core.name, result)
			return
		}
		frame = result.Payload
	}
	if err := stream.CheckPacket(frame, r.core.config.Width, r.core.source.Masked()); err != nil {
		log.Warnf("%v [%s] dropping received frame: %v", r.core.ctx.Now(), r.core.name, err)
		r.malformed += 1
		return
	}
	r.ready = append(r.ready, frame)
	r.size += frame.Len()
}
