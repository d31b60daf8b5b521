package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/Njaecha/manga-helper/internal/config"
)

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(config.DefaultConfig().Server.Listen, newTestLogger(), nil); err == nil {
		t.Fatalf("expected error when handler is nil")
	}
}

func TestNewUsesConfiguredAddress(t *testing.T) {
	listen := config.ListenConfig{Address: "127.0.0.1", Port: 9090}

	srv, err := New(listen, newTestLogger(), http.NewServeMux())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.httpServer.Addr != "127.0.0.1:9090" {
		t.Fatalf("expected addr 127.0.0.1:9090, got %s", srv.httpServer.Addr)
	}
}

func TestRunShutsDownWhenContextCancelled(t *testing.T) {
	listen := config.ListenConfig{Address: "127.0.0.1", Port: 0}
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv, err := New(listen, newTestLogger(), handler)
	if err != nil {
		t.Fatalf("unexpected error building server: %v", err)
	}
	hooked := make(chan struct{})
	srv.OnShutdown(func() { close(hooked) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not return after cancellation")
	}
	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Fatalf("shutdown hook did not run")
	}
}

func TestRunReportsListenErrors(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	srv, err := New(config.ListenConfig{Address: "127.0.0.1", Port: port}, newTestLogger(), http.NewServeMux())
	if err != nil {
		t.Fatalf("unexpected error building server: %v", err)
	}
	if err := srv.Run(context.Background()); err == nil {
		t.Fatalf("expected listen error for occupied port")
	}
}
