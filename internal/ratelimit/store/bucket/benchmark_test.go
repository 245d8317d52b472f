package bucket

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"quotaguard/internal/ratelimit/models"
)

func clientKey(scope models.ScopeName, n int64) string {
	return models.WindowKey{
		Scope:    scope,
		Kind:     models.KeyKindClient,
		Identity: fmt.Sprintf("10.%d.%d.%d", (n>>16)&0xff, (n>>8)&0xff, n&0xff),
	}.String()
}

func BenchmarkIncrement(b *testing.B) {
	ctx := context.Background()
	hot := clientKey(models.ScopeBurst, 1)

	b.Run("serial", func(b *testing.B) {
		store := New()
		for b.Loop() {
			_, _, _ = store.Increment(ctx, hot, time.Second)
		}
	})

	b.Run("one hot client", func(b *testing.B) {
		store := New()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				_, _, _ = store.Increment(ctx, hot, time.Second)
			}
		})
	})

	for _, shards := range []int{1, 32} {
		b.Run(fmt.Sprintf("many clients/%d shards", shards), func(b *testing.B) {
			store := New(WithShards(shards))
			var n atomic.Int64
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					_, _, _ = store.Increment(ctx, clientKey(models.ScopeSustained, n.Add(1)), time.Minute)
				}
			})
		})
	}
}

func BenchmarkIncrementUnderEviction(b *testing.B) {
	ctx := context.Background()
	store := New(WithMaxWindowsPerShard(64))

	var n int64
	for b.Loop() {
		n++
		_, _, _ = store.Increment(ctx, clientKey(models.ScopeSearch, n), time.Minute)
	}
}

// BenchmarkShardSpread reports the busiest and quietest shard after loading
// a realistic key population.
func BenchmarkShardSpread(b *testing.B) {
	ctx := context.Background()
	for b.Loop() {
		store := New()
		for i := range int64(20_000) {
			_, _, _ = store.Increment(ctx, clientKey(models.ScopeSearch, i), time.Minute)
		}
		total, perShard := store.Stats()
		lo, hi := perShard[0], perShard[0]
		for _, c := range perShard[1:] {
			lo, hi = min(lo, c), max(hi, c)
		}
		b.ReportMetric(float64(hi-lo)/float64(total)*100, "spread%")
	}
}
