package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestRankNearestFirst(t *testing.T) {
	pickup := models.Coord{Lat: 12.9716, Lon: 77.5946}
	drivers := []models.Driver{
		{ID: "D1", Loc: models.Coord{Lat: 13.0166, Lon: 77.5946}}, // ~5km north
		{ID: "D2", Loc: models.Coord{Lat: 12.9806, Lon: 77.5946}}, // ~1km north
	}
	got := Rank(pickup, drivers)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Driver.ID != "D2" || got[1].Driver.ID != "D1" {
		t.Fatalf("unexpected order: %s, %s", got[0].Driver.ID, got[1].Driver.ID)
	}
	if got[0].DistanceM >= got[1].DistanceM {
		t.Fatalf("distances not ascending: %f >= %f", got[0].DistanceM, got[1].DistanceM)
	}
	if drivers[0].ID != "D1" {
		t.Fatalf("input slice was reordered")
	}
}

func TestRankTieBrokenByID(t *testing.T) {
	loc := models.Coord{Lat: 1, Lon: 1}
	got := Rank(models.Coord{}, []models.Driver{{ID: "c", Loc: loc}, {ID: "a", Loc: loc}, {ID: "b", Loc: loc}})
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Driver.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].Driver.ID)
		}
	}
}
