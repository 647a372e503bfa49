// Package eventlog implements the durable, ordered, partitioned append log
// that domain services communicate through. Topics are addressed as
// {domain}.{eventType}.v{version} and canonicalized under the log's
// namespace prefix. Each consumer group owns an independent delivery cursor
// per partition; within a group every event is delivered to exactly one
// worker and redelivered after a visibility timeout if not acknowledged.
package eventlog

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// topicSegment validates one dot-separated topic segment.
var topicSegment = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// versionSegment validates the trailing version segment, e.g. "v1".
var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// Envelope is one immutable event record in the log. Offsets are assigned
// on append and are unique and dense within a topic partition.
type Envelope struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	Partition     int             `json:"partition"`
	Offset        int64           `json:"offset"`
	PartitionKey  string          `json:"partitionKey"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId,omitempty"`
	ProducedAt    time.Time       `json:"producedAt"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventID generates a lexically sortable event ID embedding the
// production timestamp.
func NewEventID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t.UTC()), rand.Reader).String()
}

// ValidateTopic checks the {domain}.{eventType}.v{version} shape. The
// namespace prefix, when present, counts as an extra leading segment.
func ValidateTopic(topic string) error {
	parts := strings.Split(topic, ".")
	if len(parts) < 3 {
		return fmt.Errorf("topic %q: want {domain}.{eventType}.v{version}", topic)
	}
	for _, seg := range parts[:len(parts)-1] {
		if !topicSegment.MatchString(seg) {
			return fmt.Errorf("topic %q: invalid segment %q", topic, seg)
		}
	}
	if !versionSegment.MatchString(parts[len(parts)-1]) {
		return fmt.Errorf("topic %q: version segment %q must match v<n>", topic, parts[len(parts)-1])
	}
	return nil
}

// CanonicalTopic prefixes the topic with the log namespace unless it is
// already prefixed. Publishing "trading.tradeexecuted.v1" under namespace
// "astra" stores "astra.trading.tradeexecuted.v1", which the audit pattern
// "astra.*.*.v1" matches.
func CanonicalTopic(namespace, topic string) string {
	if namespace == "" || topic == namespace || strings.HasPrefix(topic, namespace+".") {
		return topic
	}
	return namespace + "." + topic
}

// MatchTopic reports whether a dot-separated pattern matches a topic.
// "*" matches exactly one segment; segment counts must agree.
func MatchTopic(pattern, topic string) bool {
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// PartitionFor assigns a partition for a key by FNV-1a hash, keeping
// causally related events for one entity on one ordered partition.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}
