package database

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/kis-data/internal/config"
)

func TestConnect_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Connect(ctx, config.DBConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Name:     "kis",
		User:     "kis",
		Password: "secret",
		SSLMode:  "disable",
		MaxConns: 2,
	})
	if err == nil {
		t.Fatal("expected error for unreachable database")
	}
	if !strings.Contains(err.Error(), "ping database") {
		t.Errorf("error = %q, want ping failure", err.Error())
	}
}

func TestConnect_BadConfig(t *testing.T) {
	_, err := Connect(context.Background(), config.DBConfig{
		Host:     "localhost",
		Port:     5432,
		Name:     "kis",
		User:     "kis",
		SSLMode:  "bogus",
		MaxConns: 1,
	})
	if err == nil || !strings.Contains(err.Error(), "parse connection string") {
		t.Errorf("error = %v, want parse failure", err)
	}
}
