//go:build integration

package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduper(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	d := NewRedisDeduper(client, time.Minute, "minno-test:"+uuid.NewString()+":")
	seen, err := d.Seen(ctx, "Ev1")
	if err != nil || seen {
		t.Fatalf("first Seen = %v, %v", seen, err)
	}
	seen, err = d.Seen(ctx, "Ev1")
	if err != nil || !seen {
		t.Fatalf("second Seen = %v, %v", seen, err)
	}
}
