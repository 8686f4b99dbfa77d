package producer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDocumentPartitionedLog(t *testing.T) {
	document := map[string]interface{}{
		"orders": map[string]interface{}{
			"name":          "orders-stream",
			"partition_key": "order_id",
			"region":        "us-east-1",
		},
	}

	entries, err := ParseDocument(document)
	require.NoError(t, err)
	require.Len(t, entries["orders"], 1)
	require.Equal(t, "orders-stream", entries["orders"][0].Name)
	require.Equal(t, "order_id", entries["orders"][0].PartitionKey)
}

func TestParseDocumentPubSub(t *testing.T) {
	document := map[string]interface{}{
		"events": map[string]interface{}{
			"provider":         "gcp",
			"project":          "my-project",
			"topic":            "events",
			"private_key_file": "/etc/triton/key.json",
		},
	}

	entries, err := ParseDocument(document)
	require.NoError(t, err)
	require.True(t, entries["events"][0].IsPubSub())
}

func TestParseDocumentComposite(t *testing.T) {
	document := map[string]interface{}{
		"orders": []interface{}{
			map[string]interface{}{"name": "orders-a", "partition_key": "id"},
			map[string]interface{}{"name": "orders-b", "partition_key": "id"},
		},
	}

	entries, err := ParseDocument(document)
	require.NoError(t, err)
	require.Len(t, entries["orders"], 2)
}

func TestParseDocumentRejectsMissingFields(t *testing.T) {
	document := map[string]interface{}{
		"orders": map[string]interface{}{
			"name": "orders-stream",
		},
	}
	_, err := ParseDocument(document)
	require.Error(t, err)
}

func TestParseDocumentRejectsUnknownProvider(t *testing.T) {
	document := map[string]interface{}{
		"orders": map[string]interface{}{
			"provider": "azure",
		},
	}
	_, err := ParseDocument(document)
	require.Error(t, err)
}
