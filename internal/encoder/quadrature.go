package encoder

// Sample is one poll of the encoder lines packed as (clk<<1)|dt.
type Sample uint8

// SampleOf packs raw line levels into a Sample. Any non-zero level counts as high.
func SampleOf(clk, dt int) Sample {
	var s Sample
	if clk != 0 {
		s |= 0b10
	}
	if dt != 0 {
		s |= 0b01
	}
	return s
}

type Motion int

const (
	NoMotion         Motion = 0
	Clockwise        Motion = 1
	CounterClockwise Motion = -1
)

func (m Motion) String() string {
	switch m {
	case Clockwise:
		return "cw"
	case CounterClockwise:
		return "ccw"
	default:
		return "none"
	}
}

// transitions maps the 4-bit code prev<<2|curr to a direction. Codes not
// listed (held states and double-bit jumps) are noise.
var transitions = [16]Motion{
	0b1101: Clockwise,
	0b0100: Clockwise,
	0b0010: Clockwise,
	0b1011: Clockwise,
	0b1110: CounterClockwise,
	0b0111: CounterClockwise,
	0b0001: CounterClockwise,
	0b1000: CounterClockwise,
}

// Classify reports the direction implied by moving from prev to curr.
func Classify(prev, curr Sample) Motion {
	return transitions[(prev&0b11)<<2|(curr&0b11)]
}

// DefaultThreshold is the number of valid transitions per mechanical detent.
const DefaultThreshold = 4

// Decoder accumulates transitions into detents.
//
// Not safe for concurrent use; the controller loop owns it.
type Decoder struct {
	prev      Sample
	acc       int
	threshold int
}

func NewDecoder(initial Sample, threshold int) *Decoder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Decoder{prev: initial & 0b11, threshold: threshold}
}

// Update feeds the next sample and returns +1 or -1 when a full detent has
// been crossed, 0 otherwise. The accumulator is reset on every detent.
func (d *Decoder) Update(curr Sample) int {
	curr &= 0b11
	d.acc += int(Classify(d.prev, curr))
	d.prev = curr

	switch {
	case d.acc >= d.threshold:
		d.acc = 0
		return 1
	case d.acc <= -d.threshold:
		d.acc = 0
		return -1
	}
	return 0
}

// Accumulator returns the transitions counted since the last detent.
func (d *Decoder) Accumulator() int { return d.acc }

func (d *Decoder) Previous() Sample { return d.prev }
