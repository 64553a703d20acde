package cache

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/kis-data/internal/config"
)

func TestNewRedis_Unreachable(t *testing.T) {
	// Reserve a port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := NewRedis(ctx, config.CacheConfig{Addr: addr}, nil)
	if err == nil {
		r.Close()
		t.Fatal("expected error for unreachable redis")
	}
	if !strings.Contains(err.Error(), "ping redis "+addr) {
		t.Errorf("error = %q, should name the address", err.Error())
	}
}

func TestRedis_Key(t *testing.T) {
	r := &Redis{prefix: "kis:"}
	if got := r.key("finance:005930:balance-sheet"); got != "kis:finance:005930:balance-sheet" {
		t.Errorf("key() = %q", got)
	}
}
