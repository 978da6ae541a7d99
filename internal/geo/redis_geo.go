package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGeo implements the matching pool with Redis GEO commands plus a
// metadata hash per driver.
type RedisGeo struct {
	client    *redis.Client
	key       string
	radiusM   float64
	staleness time.Duration
}

func NewRedisGeo(addr, password, key string, staleness time.Duration) *RedisGeo {
	if staleness <= 0 {
		staleness = 2 * time.Minute
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, radiusM: 10000, staleness: staleness}
}

func (r *RedisGeo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Upsert(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if e.Updated.IsZero() {
		e.Updated = time.Now()
	}
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: e.Loc.Lon, Latitude: e.Loc.Lat, Name: e.DriverID,
	}).Result()
	_ = r.client.HSet(ctx, metaKey(e.DriverID), map[string]interface{}{
		"approved":  strconv.FormatBool(e.Approved),
		"available": strconv.FormatBool(e.Available),
		"updated":   e.Updated.UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Remove(driverID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.client.ZRem(ctx, r.key, driverID).Err()
	_ = r.client.Del(ctx, metaKey(driverID)).Err()
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []Entry {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: r.radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	cutoff := time.Now().Add(-r.staleness)
	out := make([]Entry, 0, len(res))
	for _, g := range res {
		e := Entry{DriverID: g.Name}
		e.Loc.Lat = g.Latitude
		e.Loc.Lon = g.Longitude
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		e.Approved = m["approved"] == "true"
		e.Available = m["available"] == "true"
		if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
			e.Updated = ts
		}
		if !e.Approved || !e.Available || e.Updated.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
