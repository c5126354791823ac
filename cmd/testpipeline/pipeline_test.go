package testpipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestPipelining(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6380",
	})
	defer rdb.Close()

	ctx := context.Background()

	count := 10_000
	pipe := rdb.Pipeline()

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		val := fmt.Sprintf("val_%d", i)
		pipe.Set(ctx, key, val, 0)
	}

	getResults := make([]*redis.StringCmd, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		getResults[i] = pipe.Get(ctx, key)
	}

	start := time.Now()
	_, err := pipe.Exec(ctx)
	elapsed := time.Since(start)

	assert.NoError(t, err, "Pipeline execution failed")
	fmt.Printf("Pipeline executed in %v\n", elapsed)

	for i := 0; i < count; i++ {
		expected := fmt.Sprintf("val_%d", i)
		val, err := getResults[i].Result()

		assert.NoError(t, err)
		assert.Equal(t, expected, val, "Key %d mismatch", i)
	}
}

// TestHashPipeline retargets the pipeline smoke test at the HFE command
// surface: a batch of HSET/HGETALL/HDEL against many hash keys in one
// round trip, the same shape as TestPipelining but for the hash type.
func TestHashPipeline(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6380",
	})
	defer rdb.Close()

	ctx := context.Background()

	count := 1_000
	pipe := rdb.Pipeline()

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_hash_%d", i)
		pipe.HSet(ctx, key, "a", i, "b", i*2)
	}

	getAllResults := make([]*redis.MapStringStringCmd, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_hash_%d", i)
		getAllResults[i] = pipe.HGetAll(ctx, key)
	}

	_, err := pipe.Exec(ctx)
	assert.NoError(t, err, "hash pipeline execution failed")

	for i := 0; i < count; i++ {
		fields, err := getAllResults[i].Result()
		assert.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", i), fields["a"], "hash %d field a mismatch", i)
		assert.Equal(t, fmt.Sprintf("%d", i*2), fields["b"], "hash %d field b mismatch", i)
	}

	del := rdb.Pipeline()
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_hash_%d", i)
		del.HDel(ctx, key, "a", "b")
	}
	_, err = del.Exec(ctx)
	assert.NoError(t, err, "hash cleanup pipeline failed")
}
