package ranking

import (
	"math"
	"testing"

	"github.com/hyperjump/mitsukeru/internal/models"
)

var origin = models.Address{Latitude: originLat, Longitude: originLon}

func TestNewRanker(t *testing.T) {
	r := NewRanker(nil)
	p := r.Params()
	if p.Alpha != 0.5 || p.Beta != 0.1 || p.Gamma != 3 || p.Cutoff == nil || *p.Cutoff != 1 {
		t.Errorf("default params = %+v", p)
	}

	custom := PipelineParams()
	r = NewRanker(&custom)
	if r.Params().Gamma != 10 || *r.Params().Cutoff != 1.7 {
		t.Errorf("pipeline params = %+v", r.Params())
	}
}

func TestRanker_Cutoff(t *testing.T) {
	businesses := []models.BusinessSummary{
		{ID: 1, Name: "fade", Locations: []models.Location{northOf(0)}},   // 0.5
		{ID: 2, Name: "fades", Locations: []models.Location{northOf(0)}},  // 1.0, on the cutoff
		{ID: 3, Name: "faded", Locations: []models.Location{northOf(10)}}, // 0.5 + 0.5e ≈ 1.86
		{ID: 4, Name: "fade"},                                             // +Inf
	}
	r := NewRanker(nil)
	ranked := r.Rank("fade", origin, businesses)

	if len(ranked) != 2 {
		t.Fatalf("expected 2 results within cutoff, got %d: %+v", len(ranked), ranked)
	}
	for _, s := range ranked {
		if s.Score.Combined > 1 {
			t.Errorf("business %d has score %v above cutoff", businesses[s.Index].ID, s.Score.Combined)
		}
	}
	if businesses[ranked[0].Index].ID != 1 || businesses[ranked[1].Index].ID != 2 {
		t.Errorf("unexpected order: %+v", ranked)
	}
}

func TestRanker_NoCutoffKeepsEverything(t *testing.T) {
	businesses := []models.BusinessSummary{
		{ID: 1, Name: "unreachable"},
		{ID: 2, Name: "barber", Locations: []models.Location{northOf(3)}},
		{ID: 3, Name: "barbers", Locations: []models.Location{northOf(1)}},
	}
	got := SearchBusinesses("barber", origin, businesses, &Params{Alpha: 0.5, Beta: 0.1, Gamma: 3})
	if len(got) != 3 {
		t.Fatalf("expected all businesses, got %d", len(got))
	}
	if got[2].ID != 1 {
		t.Errorf("business without locations should rank last, got order %d,%d,%d", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRanker_Ordering(t *testing.T) {
	names := []string{"nail bar", "nails", "braids", "lash lounge", "barber", "salon", "spa", "nail art"}
	businesses := make([]models.BusinessSummary, 0, len(names))
	for i, n := range names {
		businesses = append(businesses, models.BusinessSummary{
			ID:        int64(i + 1),
			Name:      n,
			Tags:      []string{"beauty"},
			Locations: []models.Location{northOf(float64(i))},
		})
	}
	p := Params{Alpha: 0.5, Beta: 0.1, Gamma: 2}
	ranked := NewRanker(&p).Rank("nail", origin, businesses)
	if len(ranked) != len(businesses) {
		t.Fatalf("expected %d results, got %d", len(businesses), len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i-1].Score.Combined > ranked[i].Score.Combined {
			t.Errorf("scores not ascending at %d: %v > %v", i, ranked[i-1].Score.Combined, ranked[i].Score.Combined)
		}
	}
	if businesses[ranked[0].Index].Name != "nails" {
		t.Errorf("best match = %q, want nails", businesses[ranked[0].Index].Name)
	}
}

func TestRanker_EmptyInput(t *testing.T) {
	got := SearchBusinesses("anything", origin, nil, nil)
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestRanker_DoesNotMutateInput(t *testing.T) {
	businesses := []models.BusinessSummary{
		{ID: 1, Name: "zzz", Locations: []models.Location{northOf(0)}},
		{ID: 2, Name: "fade", Locations: []models.Location{northOf(0)}},
	}
	p := Params{Alpha: 0.5, Beta: 0.1, Gamma: 1}
	got := SearchBusinesses("fade", origin, businesses, &p)
	if got[0].ID != 2 {
		t.Fatalf("expected fade first, got %d", got[0].ID)
	}
	if businesses[0].ID != 1 || businesses[1].ID != 2 {
		t.Error("input slice was reordered")
	}
}

func TestParams_Apply(t *testing.T) {
	alpha, gamma, cutoff := 0.9, 5, 3.0
	p := DefaultSearchParams().Apply(Overrides{Alpha: &alpha, Gamma: &gamma, Cutoff: &cutoff})
	if p.Alpha != 0.9 || p.Beta != 0.1 || p.Gamma != 5 || *p.Cutoff != 3 {
		t.Errorf("Apply = %+v", p)
	}
	if d := DefaultSearchParams(); *d.Cutoff != 1 {
		t.Error("Apply must not alias the default cutoff")
	}
}

func TestRanker_ZeroBetaDropsUnreachable(t *testing.T) {
	params := DefaultSearchParams().Apply(Overrides{Beta: Float(0)})
	businesses := []models.BusinessSummary{
		{ID: 1, Name: "zzzzzzzzzzzzzzzz"},
		{ID: 2, Name: "braid", Locations: []models.Location{northOf(0)}},
	}
	got := NewRanker(&params).Rank("braid", origin, businesses)
	if len(got) != 1 || got[0].Index != 1 {
		t.Fatalf("Rank = %+v, want only the exact match", got)
	}
	if math.Abs(got[0].Score.Combined-0.5) > 1e-9 {
		t.Errorf("Combined = %v, want 0.5", got[0].Score.Combined)
	}

	params.Cutoff = nil
	got = NewRanker(&params).Rank("braid", origin, businesses)
	if len(got) != 2 || got[0].Index != 1 || !math.IsInf(got[1].Score.Combined, 1) {
		t.Errorf("without cutoff = %+v, want the unreachable business last at +Inf", got)
	}
}

func TestPaginate(t *testing.T) {
	in := []models.BusinessSummary{{ID: 1}, {ID: 2}, {ID: 3}}
	if got := Paginate(in, 1, 1); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("Paginate(1,1) = %v", got)
	}
	if got := Paginate(in, 0, 0); len(got) != 3 {
		t.Errorf("limit 0 returns the rest, got %v", got)
	}
	if got := Paginate(in, 5, 2); got != nil {
		t.Errorf("offset past end = %v", got)
	}

	scored := []Scored{{Index: 0}, {Index: 1}, {Index: 2}}
	if got := Paginate(scored, 2, 5); len(got) != 1 || got[0].Index != 2 {
		t.Errorf("Paginate(scored, 2, 5) = %v", got)
	}
}

func BenchmarkRanker_Rank(b *testing.B) {
	businesses := make([]models.BusinessSummary, 500)
	for i := range businesses {
		businesses[i] = models.BusinessSummary{
			ID:        int64(i),
			Name:      "salon number",
			Tags:      []string{"hair", "colour", "cut"},
			Services:  []string{"balayage", "blow dry", "trim"},
			Locations: []models.Location{northOf(math.Mod(float64(i), 30))},
		}
	}
	r := NewRanker(nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Rank("balayage", origin, businesses)
	}
}
