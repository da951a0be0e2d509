package geo

import (
	"math"
	"sort"

	"github.com/example/ride-dispatch/internal/models"
)

// Candidate is a driver paired with its great-circle distance to a pickup.
type Candidate struct {
	Driver    models.Driver
	DistanceM float64
}

// Rank orders drivers by distance to pickup, ties broken by driver ID so the
// result is deterministic. The input slice is not modified.
func Rank(pickup models.Coord, drivers []models.Driver) []Candidate {
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, Candidate{Driver: d, DistanceM: Haversine(pickup.Lat, pickup.Lon, d.Loc.Lat, d.Loc.Lon)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceM != out[j].DistanceM {
			return out[i].DistanceM < out[j].DistanceM
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
