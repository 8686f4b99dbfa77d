package producer

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tritonstream/triton/triton/tritonerr"
)

// EntryConfig is one decoded entry of the configuration document
// (spec.md §6): a mapping from logical stream name to either a
// partitioned-log entry, a pub/sub entry, or a composite (list of
// either).
type EntryConfig struct {
	// Name is the backend stream/topic name (partitioned-log entries).
	Name string `mapstructure:"name"`
	// PartitionKey is the record field used to derive the partition key.
	PartitionKey string `mapstructure:"partition_key"`
	// Region is optional, partitioned-log only.
	Region string `mapstructure:"region"`

	// Provider selects the backend kind. Only "gcp" is recognized,
	// naming a pub/sub entry; partitioned-log entries omit it.
	Provider string `mapstructure:"provider"`
	// Project, Topic, PrivateKeyFile are pub/sub-only fields.
	Project        string `mapstructure:"project"`
	Topic          string `mapstructure:"topic"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
}

// IsPubSub reports whether this entry names the pub/sub provider.
func (e EntryConfig) IsPubSub() bool { return e.Provider == "gcp" }

// Validate checks that an entry carries the fields its provider
// requires, per spec.md §6.
func (e EntryConfig) Validate() error {
	if e.Provider != "" && !e.IsPubSub() {
		return &tritonerr.InvalidConfigurationError{
			Reason: fmt.Sprintf("unknown provider %q", e.Provider),
		}
	}
	if e.IsPubSub() {
		if e.Project == "" || e.Topic == "" || e.PrivateKeyFile == "" {
			return &tritonerr.InvalidConfigurationError{
				Reason: "gcp provider entries require project, topic, and private_key_file",
			}
		}
		return nil
	}
	if e.Name == "" || e.PartitionKey == "" {
		return &tritonerr.InvalidConfigurationError{
			Reason: "partitioned-log entries require name and partition_key",
		}
	}
	return nil
}

// ParseDocument decodes an already-parsed configuration document (a
// mapping from logical stream name to an entry, or a list of entries
// for a composite stream) into typed entries. Loading the document
// itself (YAML/JSON/etc.) is the caller's responsibility; this module
// only ever sees the decoded map[string]interface{}.
func ParseDocument(document map[string]interface{}) (map[string][]EntryConfig, error) {
	var out = make(map[string][]EntryConfig, len(document))
	for name, raw := range document {
		entries, err := decodeEntries(raw)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := e.Validate(); err != nil {
				return nil, err
			}
		}
		out[name] = entries
	}
	return out, nil
}

func decodeEntries(raw interface{}) ([]EntryConfig, error) {
	switch v := raw.(type) {
	case []interface{}:
		var entries = make([]EntryConfig, len(v))
		for i, item := range v {
			var entry EntryConfig
			if err := mapstructure.Decode(item, &entry); err != nil {
				return nil, &tritonerr.InvalidConfigurationError{Reason: err.Error()}
			}
			entries[i] = entry
		}
		return entries, nil
	case map[string]interface{}:
		var entry EntryConfig
		if err := mapstructure.Decode(v, &entry); err != nil {
			return nil, &tritonerr.InvalidConfigurationError{Reason: err.Error()}
		}
		return []EntryConfig{entry}, nil
	default:
		return nil, &tritonerr.InvalidConfigurationError{Reason: "stream entry must be a mapping or a list of mappings"}
	}
}
