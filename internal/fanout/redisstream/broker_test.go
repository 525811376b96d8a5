package redisstream

import (
	"os"
	"testing"
	"time"

	"github.com/yungbote/ontomap-backend/internal/fanout/fanouttest"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

func TestBrokerConformance(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	b, err := Dial(logger.Nop(), Config{Addr: addr, StreamPrefix: "ontomap:test:", ClaimIdle: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	fanouttest.Conformance(t, b, 150*time.Millisecond)
}

func TestDialRequiresAddr(t *testing.T) {
	if _, err := Dial(logger.Nop(), Config{}); err == nil {
		t.Fatalf("Dial without addr should fail")
	}
}
