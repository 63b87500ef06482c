package mq

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestToKafkaMessageCarriesKeyAndHeaders(t *testing.T) {
	msg := NewMessage("sub-1", []byte(`{"status":"Accepted"}`))
	msg.SetHeader("x-event", "judge.final")

	km := toKafkaMessage("judge.status.final", msg)
	if km.Topic != "judge.status.final" {
		t.Fatalf("unexpected topic %q", km.Topic)
	}
	if string(km.Key) != "sub-1" {
		t.Fatalf("expected key to be message id, got %q", km.Key)
	}
	found := map[string]string{}
	for _, h := range km.Headers {
		found[h.Key] = string(h.Value)
	}
	if found["x-event"] != "judge.final" || found[headerID] != "sub-1" {
		t.Fatalf("missing headers: %v", found)
	}
	if _, err := time.Parse(time.RFC3339Nano, found[headerTimestamp]); err != nil {
		t.Fatalf("bad timestamp header: %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	if ParseCompression("ZSTD") != kafka.Zstd {
		t.Fatalf("expected zstd")
	}
	if ParseCompression("none") != kafka.Compression(0) {
		t.Fatalf("expected no compression")
	}
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
