package phy

import (
	"bytes"
	"io"
	"time"

	"github.com/celskeggs/ethsim/sim/ethmac"
	"github.com/celskeggs/ethsim/sim/model"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

const pcapSnapLen = 65536

// pcap timestamps are virtual time since this epoch
var pcapEpoch = time.Unix(0, 0).UTC()

type pcapDump struct {
	w   *pcapgo.Writer
	err error
}

func (p *pcapDump) write(now model.VirtualTime, frame []byte) {
	if p.err != nil {
		return
	}
	if bytes.HasPrefix(frame, ethmac.Prefix()) {
		frame = frame[ethmac.PrefixLength:]
	}
	p.err = p.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     pcapEpoch.Add(time.Duration(now.Nanoseconds())),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
	if p.err != nil {
		log.Errorf("%v [PHY] pcap capture stopped: %v", now, p.err)
	}
}

// EnablePcap writes every frame crossing the pins, in both directions, to w as an Ethernet pcap stream. Any preamble
// and SFD are stripped; the FCS is kept.
func (m *Model) EnablePcap(w io.Writer) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		return err
	}
	m.pcap = &pcapDump{w: pw}
	return nil
}

// PcapError reports the first error encountered while writing the pcap stream.
func (m *Model) PcapError() error {
	if m.pcap == nil {
		return nil
	}
	return m.pcap.err
}
