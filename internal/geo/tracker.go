package geo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/eldercare-dispatch/internal/models"
)

// Tracker is the live-position cache consulted for proximity lookups. It is
// fed by location pings (directly by the API, or by the Kafka consumer when
// the ingest pipeline is configured) and is advisory: the store's ambulance
// rows remain the source of truth for dispatch decisions.
type Tracker interface {
	Upsert(ctx context.Context, ping models.LocationPing) error
	Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.LocationPing, error)
}

// Index is the in-memory Tracker used when Redis is not configured.
type Index struct {
	mu    sync.RWMutex
	pings map[string]models.LocationPing
	seen  map[string]time.Time
}

func NewIndex() *Index {
	return &Index{pings: make(map[string]models.LocationPing), seen: make(map[string]time.Time)}
}

func (g *Index) Upsert(_ context.Context, ping models.LocationPing) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pings[ping.AmbulanceID] = ping
	g.seen[ping.AmbulanceID] = time.Now()
	return nil
}

// naive scan; the Redis tracker handles real fleet sizes
func (g *Index) Nearby(_ context.Context, lat, lon, radiusKm float64, limit int) ([]models.LocationPing, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type scored struct {
		p    models.LocationPing
		dist float64
	}
	arr := make([]scored, 0, len(g.pings))
	for _, p := range g.pings {
		d := DistanceKm(lat, lon, p.Lat, p.Lon)
		if radiusKm > 0 && d > radiusKm {
			continue
		}
		arr = append(arr, scored{p, d})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].p.AmbulanceID < arr[j].p.AmbulanceID
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.LocationPing, 0, len(arr))
	for _, s := range arr {
		out = append(out, s.p)
	}
	return out, nil
}
