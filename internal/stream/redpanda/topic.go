package redpanda

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const minSegmentBytes = 1 << 20

// TopicSpec describes the event topic. MaxLen is an approximate entry budget:
// the broker only deletes whole segments, so the log may run over it for a while.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	MaxLen            int64
	ApproxRecordBytes int64
}

// MsgID is the stream identifier of a record.
func MsgID(r *kgo.Record) string {
	return fmt.Sprintf("%d-%d", r.Partition, r.Offset)
}

func (t TopicSpec) partitions() int32 {
	if t.Partitions <= 0 {
		return 1
	}
	return t.Partitions
}

func (t TopicSpec) replicationFactor() int16 {
	if t.ReplicationFactor <= 0 {
		return 1
	}
	return t.ReplicationFactor
}

// RetentionBytes is the per-partition byte budget derived from MaxLen.
func (t TopicSpec) RetentionBytes() int64 {
	if t.MaxLen <= 0 || t.ApproxRecordBytes <= 0 {
		return -1
	}
	return t.MaxLen * t.ApproxRecordBytes / int64(t.partitions())
}

func (t TopicSpec) Configs() map[string]*string {
	retention := t.RetentionBytes()
	configs := map[string]*string{
		"cleanup.policy": strPtr("delete"),
	}
	if retention > 0 {
		segment := retention / 4
		if segment < minSegmentBytes {
			segment = minSegmentBytes
		}
		configs["retention.bytes"] = strPtr(strconv.FormatInt(retention, 10))
		configs["segment.bytes"] = strPtr(strconv.FormatInt(segment, 10))
	}
	return configs
}

// EnsureTopic creates the topic unless it already exists.
func EnsureTopic(ctx context.Context, adm *kadm.Client, t TopicSpec) (created bool, err error) {
	resp, err := adm.CreateTopics(ctx, t.partitions(), t.replicationFactor(), t.Configs(), t.Name)
	if err != nil {
		return false, errors.Wrap(err, "create topics")
	}
	for _, r := range resp {
		if r.Err == nil {
			created = true
			continue
		}
		if errors.Is(r.Err, kerr.TopicAlreadyExists) {
			continue
		}
		return false, errors.Wrapf(r.Err, "create topic %s", r.Topic)
	}
	return created, nil
}

// EnsureTopicAt dials brokers with a short-lived admin client and runs EnsureTopic.
func EnsureTopicAt(ctx context.Context, brokers []string, t TopicSpec) (bool, error) {
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return false, errors.Wrap(err, "kgo new client")
	}
	defer cl.Close()
	return EnsureTopic(ctx, kadm.NewClient(cl), t)
}

func strPtr(s string) *string { return &s }
