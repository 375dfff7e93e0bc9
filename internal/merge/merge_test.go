package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/model"
)

var (
	monday  = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	tuesday = time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)
	day     = model.Bounds{Start: 745, End: 1600}
)

func math(start, end int) model.Lesson {
	return model.Lesson{
		Date:     monday,
		Start:    start,
		End:      end,
		Subject:  "MA",
		Teachers: []string{"Mül"},
		Room:     "R101",
		Classes:  []string{"7A"},
		Status:   model.StatusConfirmed,
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		in     []model.Lesson
		bounds model.Bounds
		want   [][2]int
	}{
		{
			name:   "empty input",
			in:     nil,
			bounds: day,
			want:   [][2]int{},
		},
		{
			name:   "one unit gap merges",
			in:     []model.Lesson{math(800, 845), math(846, 930)},
			bounds: day,
			want:   [][2]int{{800, 930}},
		},
		{
			name:   "touching merges",
			in:     []model.Lesson{math(800, 845), math(845, 930)},
			bounds: day,
			want:   [][2]int{{800, 930}},
		},
		{
			name:   "real gap stays split",
			in:     []model.Lesson{math(800, 845), math(900, 945)},
			bounds: day,
			want:   [][2]int{{800, 845}, {900, 945}},
		},
		{
			name:   "overlap keeps the later end",
			in:     []model.Lesson{math(800, 1000), math(830, 900)},
			bounds: day,
			want:   [][2]int{{800, 1000}},
		},
		{
			name:   "unsorted input",
			in:     []model.Lesson{math(846, 930), math(1000, 1045), math(800, 845)},
			bounds: day,
			want:   [][2]int{{800, 930}, {1000, 1045}},
		},
		{
			name:   "clamped to school start",
			in:     []model.Lesson{math(700, 810)},
			bounds: model.Bounds{Start: 800, End: 1600},
			want:   [][2]int{{800, 810}},
		},
		{
			name:   "fully outside school hours dropped",
			in:     []model.Lesson{math(1700, 1800), math(600, 700)},
			bounds: day,
			want:   [][2]int{},
		},
		{
			name:   "degenerate bounds drop everything",
			in:     []model.Lesson{math(800, 845), math(900, 945)},
			bounds: model.Bounds{},
			want:   [][2]int{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.in, tc.bounds)
			require.NotNil(t, got)
			spans := make([][2]int, 0, len(got))
			for _, l := range got {
				spans = append(spans, [2]int{l.Start, l.End})
			}
			assert.Equal(t, tc.want, spans)
		})
	}
}

func TestMergeRespectsIdentity(t *testing.T) {
	other := math(846, 930)
	other.Room = "R102"

	reordered := math(846, 930)
	reordered.Teachers = []string{"Mül", "Sch"}

	swapped := math(846, 930)
	swapped.Classes = []string{"7B", "7A"}
	first := math(800, 845)
	first.Classes = []string{"7A", "7B"}

	nextDay := math(846, 930)
	nextDay.Date = tuesday

	for name, pair := range map[string][2]model.Lesson{
		"different room":        {math(800, 845), other},
		"different teachers":    {math(800, 845), reordered},
		"class order sensitive": {first, swapped},
		"different day":         {math(800, 845), nextDay},
	} {
		t.Run(name, func(t *testing.T) {
			got := Merge(pair[:], day)
			assert.Len(t, got, 2)
		})
	}
}

func TestMergeSortsByDateThenStart(t *testing.T) {
	late := math(1000, 1045)
	early := math(800, 845)
	early.Subject = "DE"
	tue := math(745, 830)
	tue.Date = tuesday

	got := Merge([]model.Lesson{tue, late, early}, day)
	require.Len(t, got, 3)
	assert.Equal(t, "DE", got[0].Subject)
	assert.Equal(t, 1000, got[1].Start)
	assert.Equal(t, tuesday, got[2].Date)
}

func TestMergeIsIdempotent(t *testing.T) {
	in := []model.Lesson{
		math(800, 845), math(846, 930), math(1000, 1045),
		math(1046, 1130), math(1300, 1345),
	}
	once := Merge(in, day)
	twice := Merge(once, day)
	assert.Equal(t, once, twice)
}

func TestMergeOutputInvariants(t *testing.T) {
	in := []model.Lesson{
		math(700, 800), math(801, 845), math(846, 930),
		math(935, 1020), math(1500, 1700), math(1700, 1800),
	}
	got := Merge(in, day)

	for i, l := range got {
		assert.Less(t, l.Start, l.End, "lesson %d", i)
		assert.GreaterOrEqual(t, l.Start, day.Start)
		assert.LessOrEqual(t, l.End, day.End)
		if i == 0 {
			continue
		}
		prev := got[i-1]
		assert.LessOrEqual(t, prev.Start, l.Start)
		if prev.IdentityKey() == l.IdentityKey() {
			assert.Greater(t, l.Start, prev.End+Gap, "adjacent lessons %d and %d should have merged", i-1, i)
		}
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	in := []model.Lesson{math(846, 930), math(700, 845)}
	_ = Merge(in, day)
	assert.Equal(t, 846, in[0].Start)
	assert.Equal(t, 700, in[1].Start)
}

func TestClamp(t *testing.T) {
	got, ok := Clamp(math(700, 810), model.Bounds{Start: 800, End: 1600})
	require.True(t, ok)
	assert.Equal(t, 800, got.Start)
	assert.Equal(t, 810, got.End)

	_, ok = Clamp(math(800, 845), model.Bounds{})
	assert.False(t, ok)
}
