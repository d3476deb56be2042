// Package stimulus picks the next stimulus identity for each paradigm and
// classifies responses against it. Paradigm dispatch happens once, when the
// generator is built, rather than being re-checked throughout the engine.
package stimulus

import (
	"math"
	"math/rand"

	"rtlab/internal/models"
)

// Stimulus identities. StimulusDetail on a trial record is always one of
// these.
const (
	IdentityTarget = "target"
	IdentityLeft   = "left"
	IdentityRight  = "right"
	IdentityUp     = "up"
	IdentityDown   = "down"
	IdentityGo     = "go"
	IdentityNoGo   = "nogo"
)

// Practice go/no-go trials draw go at these odds; the main test meets the
// same split exactly via a fixed-composition sequence.
const goProbability = 0.7

// centerThresholdPx is the half-width of the dead band around the viewport
// center in the 4-choice paradigm. A press inside the band on both axes is
// a "center" response, which matches no identity.
const centerThresholdPx = 50.0

// RegionCenter is the explicit invalid-response bucket for CRT_4.
const RegionCenter = "center"

// Pointer is where a response landed, with the viewport it landed in.
type Pointer struct {
	X, Y                          float64
	ViewportWidth, ViewportHeight float64
}

// Generator yields the next stimulus identity for a session. Not safe for
// concurrent use; each session owns one.
type Generator struct {
	paradigm models.Paradigm
	rng      *rand.Rand
	// sequence is the shuffled fixed-composition main-test schedule for
	// go/no-go; empty for every other paradigm.
	sequence []string
	next     int
}

// NewGenerator builds the generator for one session. For go/no-go,
// totalTrials fixes the composition of the main-test sequence, which is
// shuffled once here and then consumed in order.
func NewGenerator(paradigm models.Paradigm, totalTrials int, rng *rand.Rand) *Generator {
	g := &Generator{paradigm: paradigm, rng: rng}
	if paradigm == models.ParadigmGoNoGo {
		g.sequence = goNoGoSequence(totalTrials, rng)
	}
	return g
}

// goNoGoSequence builds a schedule with exactly round(70%) go trials, so
// the split holds exactly rather than only in expectation. 40 trials give
// 28 go and 12 nogo.
func goNoGoSequence(total int, rng *rand.Rand) []string {
	nGo := int(math.Round(float64(total) * goProbability))
	seq := make([]string, total)
	for i := range seq {
		if i < nGo {
			seq[i] = IdentityGo
		} else {
			seq[i] = IdentityNoGo
		}
	}
	rng.Shuffle(len(seq), func(i, j int) {
		seq[i], seq[j] = seq[j], seq[i]
	})
	return seq
}

// Sequence exposes the go/no-go main schedule for persistence. Nil for
// other paradigms.
func (g *Generator) Sequence() []string { return g.sequence }

// Next returns the identity of the next stimulus. Practice go/no-go trials
// draw independently at 70/30; main-test trials consume the fixed sequence.
func (g *Generator) Next(isPractice bool) string {
	switch g.paradigm {
	case models.ParadigmSRT:
		return IdentityTarget
	case models.ParadigmCRT2:
		if g.rng.Float64() < 0.5 {
			return IdentityLeft
		}
		return IdentityRight
	case models.ParadigmCRT4:
		return []string{IdentityUp, IdentityDown, IdentityLeft, IdentityRight}[g.rng.Intn(4)]
	case models.ParadigmGoNoGo:
		if isPractice {
			if g.rng.Float64() < goProbability {
				return IdentityGo
			}
			return IdentityNoGo
		}
		id := g.sequence[g.next%len(g.sequence)]
		g.next++
		return id
	}
	return IdentityTarget
}

// Region maps a pointer position to a response region for the 4-choice
// paradigm: the dominant axis offset from the viewport center, or "center"
// when both offsets sit inside the threshold band.
func Region(p Pointer) string {
	dx := p.X - p.ViewportWidth/2
	dy := p.Y - p.ViewportHeight/2
	if math.Abs(dx) <= centerThresholdPx && math.Abs(dy) <= centerThresholdPx {
		return RegionCenter
	}
	if math.Abs(dx) >= math.Abs(dy) {
		if dx < 0 {
			return IdentityLeft
		}
		return IdentityRight
	}
	if dy < 0 {
		return IdentityUp
	}
	return IdentityDown
}

// Classify scores a responded trial. Nil means the paradigm has no
// correctness notion. The no-response case (a correct no-go inhibition) is
// resolved by the engine's inhibition timeout, not here.
func Classify(paradigm models.Paradigm, identity string, p Pointer) *bool {
	switch paradigm {
	case models.ParadigmSRT:
		return nil
	case models.ParadigmCRT2:
		half := IdentityRight
		if p.X < p.ViewportWidth/2 {
			half = IdentityLeft
		}
		return boolPtr(half == identity)
	case models.ParadigmCRT4:
		// A "center" region matches no identity, so it is always
		// incorrect.
		return boolPtr(Region(p) == identity)
	case models.ParadigmGoNoGo:
		// Any response before the inhibition timeout is correct only
		// on a go stimulus.
		return boolPtr(identity == IdentityGo)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
