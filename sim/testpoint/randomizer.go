package testpoint

import (
	"fmt"
	"math/rand"

	"github.com/celskeggs/ethsim/sim/stream"
	"github.com/celskeggs/ethsim/sim/util"
	"golang.org/x/crypto/blake2b"
)

// MaxLevel is the stall level at which every cycle is withheld.
const MaxLevel = 100

// AckRandomizer sits inline between two ports of equal width and withholds the handshake on pseudo-randomly chosen
// cycles. On a withheld cycle the downstream port sees valid deasserted and the upstream port sees ready deasserted;
// otherwise both pass through unchanged. Beats are never dropped or reordered.
//
// Each cycle out of reset draws n from [0, MaxLevel) and passes the cycle iff n >= level, so level 0 never stalls and
// the stall probability is level/MaxLevel.
type AckRandomizer struct {
	name  string
	level int
	seed  int64
	rng   *rand.Rand

	up   *stream.Port
	down *stream.Port

	allow    bool
	pattern  []bool
	withheld uint64
}

func ValidateLevel(level int) error {
	if level < 0 || level > MaxLevel {
		return fmt.Errorf("stall level %d out of range [0, %d]", level, MaxLevel)
	}
	return nil
}

// MakeAckRandomizer binds the consumer end of up and the producer end of down.
func MakeAckRandomizer(name string, up, down *stream.Port, level int, seed int64) *AckRandomizer {
	if err := ValidateLevel(level); err != nil {
		panic(err.Error())
	}
	if up.Width() != down.Width() || up.Masked() != down.Masked() {
		panic(fmt.Sprintf("randomizer %s joins mismatched ports %s and %s", name, up.Name(), down.Name()))
	}
	ar := &AckRandomizer{
		name:  name,
		level: level,
		seed:  seed,
		rng:   rand.New(rand.NewSource(seed)),
		up:    up,
		down:  down,
	}
	up.BindConsumer(name)
	down.BindProducer(name)
	down.DriveFrom(func() (stream.Beat, bool) {
		b, valid := up.Valid()
		return b, valid && ar.allow
	})
	up.AcceptFrom(func() bool {
		return ar.allow && down.Ready()
	})
	return ar
}

func (ar *AckRandomizer) Name() string {
	return ar.name
}

func (ar *AckRandomizer) Level() int {
	return ar.level
}

func (ar *AckRandomizer) Seed() int64 {
	return ar.seed
}

func (ar *AckRandomizer) Reset() {
	ar.allow = false
}

func (ar *AckRandomizer) Drive() {
	ar.allow = ar.rng.Intn(MaxLevel) >= ar.level
	ar.pattern = append(ar.pattern, ar.allow)
}

func (ar *AckRandomizer) Clock() {
	if _, valid := ar.up.Valid(); valid && !ar.allow {
		ar.withheld += 1
	}
}

// Pattern returns, for each cycle since reset release, whether the cycle was allowed through.
func (ar *AckRandomizer) Pattern() []bool {
	return append([]bool(nil), ar.pattern...)
}

// PatternBits packs the pattern, one bit per cycle, first cycle in the least significant bit of the first byte.
func (ar *AckRandomizer) PatternBits() []byte {
	return util.BitsToBytes(ar.pattern)
}

// Withheld counts cycles on which the upstream producer had valid asserted but the randomizer withheld the transfer.
func (ar *AckRandomizer) Withheld() uint64 {
	return ar.withheld
}

// Digest identifies the exact stall pattern so far: equal digests mean identical cycle-by-cycle decisions.
func (ar *AckRandomizer) Digest() [32]byte {
	var length [8]byte
	util.PutWordLE(length[:], uint64(len(ar.pattern)))
	return blake2b.Sum256(append(length[:], ar.PatternBits()...))
}

func (ar *AckRandomizer) String() string {
	return fmt.Sprintf("%s[level=%d seed=%d cycles=%d withheld=%d]", ar.name, ar.level, ar.seed, len(ar.pattern), ar.withheld)
}
