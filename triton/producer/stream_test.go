package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tritonstream/triton/triton/tritonerr"
)

func TestPutOneHappyPath(t *testing.T) {
	var be = newFakeBackend([]string{"0001"}, 500)
	var stream = NewStream("orders", "value", be)

	result, err := stream.Put(context.Background(), map[string]interface{}{"value": 0})
	require.NoError(t, err)
	require.Equal(t, "0001", result.ShardID)
	require.Equal(t, "1", result.SeqNum)
}

func TestPutMissingPartitionKey(t *testing.T) {
	var be = newFakeBackend([]string{"0001"}, 500)
	var stream = NewStream("orders", "value", be)

	_, err := stream.Put(context.Background(), map[string]interface{}{"other": 1})
	require.Error(t, err)
	var mpk *tritonerr.MissingPartitionKeyError
	require.ErrorAs(t, err, &mpk)
}

func TestPutPartitionKeyTooLong(t *testing.T) {
	var be = newFakeBackend([]string{"0001"}, 500)
	var stream = NewStream("orders", "value", be)

	var long = make([]byte, 65)
	_, err := stream.Put(context.Background(), map[string]interface{}{"value": string(long)})
	require.Error(t, err)
	var tooLong *tritonerr.PartitionKeyTooLongError
	require.ErrorAs(t, err, &tooLong)
}

func TestPutManyWithPartialRetrySucceeds(t *testing.T) {
	var be = newFakeBackend([]string{"0001"}, 500)
	be.putManyFailFirstN = 50
	be.putManyFailCallBudget = 1 // only the first call sees failures; retry succeeds

	var records = make([]map[string]interface{}, 100)
	for i := range records {
		records[i] = map[string]interface{}{"value": i}
	}

	var stream = NewStream("orders", "value", be)
	results, err := stream.PutMany(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, results, 100)
	for _, r := range results {
		require.NotEmpty(t, r.ShardID)
		require.NotEmpty(t, r.SeqNum)
	}
}

func TestPutManyExhaustsRetryBudget(t *testing.T) {
	var be = newFakeBackend([]string{"0001"}, 500)
	be.putManyFailFirstN = 100 // every record, every call
	be.putManyFailCallBudget = 1000

	var records = make([]map[string]interface{}, 100)
	for i := range records {
		records[i] = map[string]interface{}{"value": i}
	}

	var stream = NewStream("orders", "value", be)
	_, err := stream.PutMany(context.Background(), records)
	require.Error(t, err)

	var pme *tritonerr.PutManyError
	require.ErrorAs(t, err, &pme)
	require.Greater(t, len(pme.Failed), 0)
	require.LessOrEqual(t, len(pme.Failed), 100)
}

func TestPutManyChunking(t *testing.T) {
	for _, n := range []int{1, 499, 500, 501, 1201} {
		var be = newFakeBackend([]string{"0001"}, 500)
		var records = make([]map[string]interface{}, n)
		for i := range records {
			records[i] = map[string]interface{}{"value": i}
		}

		var stream = NewStream("orders", "value", be)
		results, err := stream.PutMany(context.Background(), records)
		require.NoError(t, err)
		require.Len(t, results, n)

		var expectedCalls = (n + 499) / 500
		require.Equal(t, int32(expectedCalls), be.putManyCallCount)
	}
}

func TestShardsCachedOnce(t *testing.T) {
	var be = newFakeBackend([]string{"0001", "0002"}, 500)
	var stream = NewStream("orders", "value", be)

	for i := 0; i < 5; i++ {
		ids, err := stream.Shards(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"0001", "0002"}, ids)
	}
	require.Equal(t, int32(1), be.describeShardsCalls)
}

func TestSelectShards(t *testing.T) {
	var be = newFakeBackend([]string{"0001", "0002", "0003"}, 500)
	var stream = NewStream("orders", "value", be)

	all, err := stream.SelectShards(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"0001", "0002", "0003"}, all)

	some, err := stream.SelectShards(context.Background(), []int{2, 0})
	require.NoError(t, err)
	require.Equal(t, []string{"0003", "0001"}, some)

	_, err = stream.SelectShards(context.Background(), []int{5})
	require.Error(t, err)
	var notFound *tritonerr.ShardNotFoundError
	require.ErrorAs(t, err, &notFound)
}
