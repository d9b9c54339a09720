package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/eldercare-dispatch/internal/models"
)

// RedisTracker implements Tracker on Redis GEO commands so every API and
// consumer instance shares one live-position view.
type RedisTracker struct {
	client *redis.Client
	key    string
}

func NewRedisTracker(addr, password, key string) *RedisTracker {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisTracker{client: c, key: key}
}

// NewRedisTrackerFromClient shares an existing client, used by the consumer.
func NewRedisTrackerFromClient(c *redis.Client, key string) *RedisTracker {
	return &RedisTracker{client: c, key: key}
}

func (r *RedisTracker) Upsert(ctx context.Context, ping models.LocationPing) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: ping.Lon,
		Latitude:  ping.Lat,
		Name:      ping.AmbulanceID,
	}).Result(); err != nil {
		return err
	}
	meta := map[string]interface{}{"updated": time.Now().UTC().Format(time.RFC3339)}
	if ping.SpeedKmh != nil {
		meta["speed_kmh"] = strconv.FormatFloat(*ping.SpeedKmh, 'f', -1, 64)
	}
	if ping.HeadingDeg != nil {
		meta["heading_deg"] = strconv.FormatFloat(*ping.HeadingDeg, 'f', -1, 64)
	}
	return r.client.HSet(ctx, metaKey(ping.AmbulanceID), meta).Err()
}

func (r *RedisTracker) Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.LocationPing, error) {
	if radiusKm <= 0 {
		radiusKm = 25
	}
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.LocationPing, 0, len(res))
	for _, g := range res {
		p := models.LocationPing{AmbulanceID: g.Name, Lat: g.Latitude, Lon: g.Longitude}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["speed_kmh"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					p.SpeedKmh = &f
				}
			}
			if v, ok := m["heading_deg"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					p.HeadingDeg = &f
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func metaKey(id string) string { return "ambulance:meta:" + id }
