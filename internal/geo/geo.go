package geo

import (
	"math"
	"sort"

	"github.com/example/eldercare-dispatch/internal/models"
)

const (
	earthRadiusKm = 6371.0
	// DefaultSpeedKmh is the assumed average ambulance speed when the caller
	// does not supply one.
	DefaultSpeedKmh = 60.0
	// trafficBuffer pads the straight-line estimate for routing and traffic.
	trafficBuffer = 1.2
)

// DistanceKm returns the Haversine great-circle distance in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// ETAMinutes estimates arrival time in whole minutes for a straight-line
// distance, padded by the traffic buffer. avgSpeedKmh <= 0 falls back to
// DefaultSpeedKmh.
func ETAMinutes(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultSpeedKmh
	}
	return int(math.Round(distanceKm * trafficBuffer / avgSpeedKmh * 60))
}

// Candidate is one ranked ambulance with its computed route estimate.
type Candidate struct {
	Ambulance  models.Ambulance `json:"ambulance"`
	DistanceKm float64          `json:"distance_km"`
	ETAMinutes int              `json:"eta_minutes"`
}

// Nearest ranks candidates by ascending great-circle distance from loc,
// breaking distance ties by ambulance id ascending so the order is a total
// order and identical inputs always rank identically. Candidates without a
// known location are excluded. At most limit results are returned; limit <= 0
// means no truncation.
func Nearest(loc models.Coord, candidates []models.Ambulance, avgSpeedKmh float64, limit int) []Candidate {
	ranked := make([]Candidate, 0, len(candidates))
	for _, a := range candidates {
		if a.Location == nil {
			continue
		}
		d := DistanceKm(loc.Lat, loc.Lon, a.Location.Lat, a.Location.Lon)
		ranked = append(ranked, Candidate{Ambulance: a, DistanceKm: d, ETAMinutes: ETAMinutes(d, avgSpeedKmh)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Ambulance.ID < ranked[j].Ambulance.ID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
