// Package testpoint holds the injection and observation points a scenario attaches to the streaming ports around the
// device under test.
package testpoint

import (
	"github.com/celskeggs/ethsim/sim/component"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/celskeggs/ethsim/sim/packet"
	"github.com/celskeggs/ethsim/sim/stream"
	log "github.com/sirupsen/logrus"
)

type streamJob struct {
	packets []packet.Packet
	beats   *stream.Serializer
	done    func()
}

// Streamer drives packets onto a port as beats. A stalled beat is presented again, unchanged, on every following
// cycle until it commits.
type Streamer struct {
	*component.EventDispatcher
	ctx  model.SimContext
	name string
	port *stream.Port

	jobs     []*streamJob
	current  stream.Beat
	loaded   bool
	index    int
	sent     []packet.Packet
	observer func(index int, p packet.Packet)
}

var _ model.EventSource = &Streamer{}

func MakeStreamer(ctx model.SimContext, name string, port *stream.Port) *Streamer {
	port.BindProducer(name)
	return &Streamer{
		EventDispatcher: component.MakeEventDispatcher(ctx, "sim.testpoint.Streamer"),
		ctx:             ctx,
		name:            name,
		port:            port,
	}
}

// Send queues one packet; done (if not nil) is called once its last beat commits.
func (s *Streamer) Send(p packet.Packet, done func()) {
	s.SendAll([]packet.Packet{p}, done)
}

// SendAll queues packets to be sent back to back; done (if not nil) is called once the last beat of the last packet
// commits. Packets the port cannot carry are rejected with a panic, so callers validate them up front.
func (s *Streamer) SendAll(packets []packet.Packet, done func()) {
	for _, p := range packets {
		if err := stream.CheckPacket(p, s.port.Width(), s.port.Masked()); err != nil {
			panic("streamer " + s.name + ": " + err.Error())
		}
	}
	if len(packets) == 0 {
		if done != nil {
			s.ctx.Later("sim.testpoint.Streamer/Empty", done)
		}
		return
	}
	s.jobs = append(s.jobs, &streamJob{
		packets: packets,
		beats:   stream.NewSerializer(s.port.Width(), s.port.Masked(), packets...),
		done:    done,
	})
}

// SendAndWait sends packets from a scenario script and suspends it until they have all been accepted.
func (s *Streamer) SendAndWait(ti *component.TwixtIO, packets ...packet.Packet) {
	finished := false
	s.SendAll(packets, func() {
		finished = true
	})
	ti.WaitFor(func() bool { return finished }, s)
}

// Observe registers a callback for each packet whose final beat commits, with its position among all packets sent.
func (s *Streamer) Observe(fn func(index int, p packet.Packet)) {
	s.observer = fn
}

// Idle reports whether every queued packet has been fully accepted.
func (s *Streamer) Idle() bool {
	return len(s.jobs) == 0
}

// Sent returns the packets whose final beat has committed, in order.
func (s *Streamer) Sent() []packet.Packet {
	return append([]packet.Packet(nil), s.sent...)
}

// Pending is the number of queued packets not yet fully accepted.
func (s *Streamer) Pending() int {
	count := 0
	for _, job := range s.jobs {
		count += len(job.packets)
	}
	return count - s.index
}

func (s *Streamer) Reset() {
	s.port.Withdraw()
}

func (s *Streamer) Drive() {
	if !s.loaded && len(s.jobs) > 0 {
		s.current, s.loaded = s.jobs[0].beats.Next()
		if s.loaded && s.current.First {
			p := s.jobs[0].packets[s.index]
			log.Debugf("%v [%s] streaming packet %d of %d: %v", s.ctx.Now(), s.name, s.index+1, len(s.jobs[0].packets), p)
		}
	}
	if s.loaded {
		s.port.Present(s.current)
	} else {
		s.port.Withdraw()
	}
}

func (s *Streamer) Clock() {
	if _, fired := s.port.Fired(); !fired {
		return
	}
	if !s.loaded {
		panic("port committed a beat the streamer never presented")
	}
	s.loaded = false
	if !s.current.Last {
		return
	}
	job := s.jobs[0]
	s.sent = append(s.sent, job.packets[s.index])
	if s.observer != nil {
		s.observer(len(s.sent)-1, job.packets[s.index])
	}
	s.index += 1
	if s.index < len(job.packets) {
		return
	}
	s.jobs = s.jobs[1:]
	s.index = 0
	if job.done != nil {
		job.done()
	}
	s.DispatchLater()
}
