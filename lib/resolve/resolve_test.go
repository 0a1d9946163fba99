package resolve

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPortOrZero(t *testing.T) {
	cases := map[string]int{
		"80":    80,
		"8080":  8080,
		"0":     0,
		"":      0,
		"80abc": 0,
	}
	for in, want := range cases {
		if got := portOrZero(in); got != want {
			t.Errorf("portOrZero(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestGetaddrRespectsCancellation(t *testing.T) {
	r := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := r.Getaddr(ctx, "some.host.example", "80")
	select {
	case res := <-ch:
		// A cached or instantaneous resolver failure is also acceptable;
		// the important property is that the call never blocks forever.
		_ = res
	case <-time.After(2 * time.Second):
		t.Fatal("Getaddr did not return promptly after context cancellation")
	}
}

func TestNewDefaultsResolver(t *testing.T) {
	r := New(nil)
	if r.r != net.DefaultResolver {
		t.Error("expected New(nil) to use net.DefaultResolver")
	}
}
