package packet

import (
	"math/rand"
	"net"

	"github.com/gopacket/gopacket/layers"
)

// Sequential returns a packet of n bytes counting up from zero, wrapping at 256.
func Sequential(n int) Packet {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return Packet{data: data}
}

// Repeat returns count copies of the same packet, as a scenario's send list.
func Repeat(p Packet, count int) []Packet {
	out := make([]Packet, count)
	for i := range out {
		out[i] = p
	}
	return out
}

// RandPacket returns a packet of random contents whose length is uniformly drawn from [minLen, maxLen].
func RandPacket(r *rand.Rand, minLen, maxLen int) Packet {
	if minLen < 0 || maxLen < minLen {
		panic("invalid packet length range")
	}
	data := make([]byte, minLen+r.Intn(maxLen-minLen+1))
	_, _ = r.Read(data)
	return Packet{data: data}
}

func randMAC(r *rand.Rand) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	_, _ = r.Read(mac)
	// unicast, locally administered
	mac[0] = (mac[0] &^ 0x01) | 0x02
	return mac
}

// RandEthernet builds a well-formed Ethernet packet with random addresses and a random payload of dataLen bytes.
func RandEthernet(r *rand.Rand, dataLen int) Packet {
	payload := make([]byte, dataLen)
	_, _ = r.Read(payload)
	p, err := Build(randMAC(r), randMAC(r), layers.EthernetTypeIPv4, payload)
	if err != nil {
		panic("unexpected serialization error: " + err.Error())
	}
	return p
}
