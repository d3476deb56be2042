package stimulus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtlab/internal/models"
)

func TestSRTAlwaysTarget(t *testing.T) {
	g := NewGenerator(models.ParadigmSRT, 10, rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		assert.Equal(t, IdentityTarget, g.Next(false))
	}
	assert.Nil(t, g.Sequence())
}

func TestCRT2OnlyLeftRight(t *testing.T) {
	g := NewGenerator(models.ParadigmCRT2, 100, rand.New(rand.NewSource(2)))
	seen := map[string]int{}
	for i := 0; i < 100; i++ {
		seen[g.Next(false)]++
	}
	assert.Len(t, seen, 2)
	assert.Greater(t, seen[IdentityLeft], 0)
	assert.Greater(t, seen[IdentityRight], 0)
}

func TestCRT4AllDirections(t *testing.T) {
	g := NewGenerator(models.ParadigmCRT4, 200, rand.New(rand.NewSource(3)))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[g.Next(false)] = true
	}
	assert.Equal(t, map[string]bool{
		IdentityUp: true, IdentityDown: true, IdentityLeft: true, IdentityRight: true,
	}, seen)
}

func TestGoNoGoSequenceComposition(t *testing.T) {
	g := NewGenerator(models.ParadigmGoNoGo, 40, rand.New(rand.NewSource(4)))
	seq := g.Sequence()
	require.Len(t, seq, 40)

	var nGo, nNoGo int
	for _, id := range seq {
		switch id {
		case IdentityGo:
			nGo++
		case IdentityNoGo:
			nNoGo++
		default:
			t.Fatalf("unexpected identity %q in sequence", id)
		}
	}
	// 40 trials split exactly 28 go and 12 no-go.
	assert.Equal(t, 28, nGo)
	assert.Equal(t, 12, nNoGo)
}

func TestGoNoGoMainTrialsConsumeSequence(t *testing.T) {
	g := NewGenerator(models.ParadigmGoNoGo, 40, rand.New(rand.NewSource(5)))
	seq := g.Sequence()
	for i := 0; i < 40; i++ {
		assert.Equal(t, seq[i], g.Next(false))
	}
}

func TestGoNoGoPracticeDoesNotConsumeSequence(t *testing.T) {
	g := NewGenerator(models.ParadigmGoNoGo, 40, rand.New(rand.NewSource(6)))
	seq := g.Sequence()
	for i := 0; i < 5; i++ {
		id := g.Next(true)
		assert.Contains(t, []string{IdentityGo, IdentityNoGo}, id)
	}
	// The main schedule starts from its first entry regardless.
	assert.Equal(t, seq[0], g.Next(false))
}

func TestGoNoGoCompositionRounds(t *testing.T) {
	tests := []struct {
		total  int
		wantGo int
	}{
		{total: 40, wantGo: 28},
		{total: 10, wantGo: 7},
		{total: 11, wantGo: 8}, // 7.7 rounds up
		{total: 1, wantGo: 1},
	}
	for _, tt := range tests {
		g := NewGenerator(models.ParadigmGoNoGo, tt.total, rand.New(rand.NewSource(7)))
		var nGo int
		for _, id := range g.Sequence() {
			if id == IdentityGo {
				nGo++
			}
		}
		assert.Equal(t, tt.wantGo, nGo, "total=%d", tt.total)
	}
}

func TestRegion(t *testing.T) {
	vp := Pointer{ViewportWidth: 800, ViewportHeight: 600}
	at := func(x, y float64) Pointer {
		p := vp
		p.X, p.Y = x, y
		return p
	}
	tests := []struct {
		name    string
		pointer Pointer
		want    string
	}{
		{name: "dead center", pointer: at(400, 300), want: RegionCenter},
		{name: "inside band on both axes", pointer: at(440, 330), want: RegionCenter},
		{name: "band edge is still center", pointer: at(450, 300), want: RegionCenter},
		{name: "left of center", pointer: at(100, 300), want: IdentityLeft},
		{name: "right of center", pointer: at(700, 310), want: IdentityRight},
		{name: "above center", pointer: at(410, 50), want: IdentityUp},
		{name: "below center", pointer: at(390, 550), want: IdentityDown},
		{name: "horizontal wins on dominant axis", pointer: at(700, 400), want: IdentityRight},
		{name: "vertical wins on dominant axis", pointer: at(410, 550), want: IdentityDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Region(tt.pointer))
		})
	}
}

func TestClassify(t *testing.T) {
	vp := Pointer{ViewportWidth: 800, ViewportHeight: 600}
	at := func(x, y float64) Pointer {
		p := vp
		p.X, p.Y = x, y
		return p
	}

	t.Run("srt has no correctness", func(t *testing.T) {
		assert.Nil(t, Classify(models.ParadigmSRT, IdentityTarget, at(10, 10)))
	})

	t.Run("crt_2 scores the touched half", func(t *testing.T) {
		got := Classify(models.ParadigmCRT2, IdentityLeft, at(100, 300))
		require.NotNil(t, got)
		assert.True(t, *got)

		got = Classify(models.ParadigmCRT2, IdentityLeft, at(700, 300))
		require.NotNil(t, got)
		assert.False(t, *got)
	})

	t.Run("crt_4 center press is always incorrect", func(t *testing.T) {
		for _, id := range []string{IdentityUp, IdentityDown, IdentityLeft, IdentityRight} {
			got := Classify(models.ParadigmCRT4, id, at(400, 300))
			require.NotNil(t, got)
			assert.False(t, *got, "identity %s", id)
		}
	})

	t.Run("crt_4 matching region is correct", func(t *testing.T) {
		got := Classify(models.ParadigmCRT4, IdentityUp, at(410, 50))
		require.NotNil(t, got)
		assert.True(t, *got)
	})

	t.Run("go_no_go response correct only on go", func(t *testing.T) {
		got := Classify(models.ParadigmGoNoGo, IdentityGo, at(400, 300))
		require.NotNil(t, got)
		assert.True(t, *got)

		got = Classify(models.ParadigmGoNoGo, IdentityNoGo, at(400, 300))
		require.NotNil(t, got)
		assert.False(t, *got)
	})
}
