package main

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/outboundpool/socketpool/lib/socketpool"
)

// poolTransport is an http.RoundTripper that acquires its connection from a
// socketpool.Pool instead of net/http's own connection cache, and returns it
// to the pool once the response body is fully read and closed.
type poolTransport struct {
	pool   *socketpool.Pool
	logger *slog.Logger
}

func (t *poolTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL := req.URL.Scheme + "://" + req.URL.Host
	if req.URL.Scheme == "" {
		targetURL = "http://" + req.Host
	}

	type acquireResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan acquireResult, 1)
	handle := t.pool.Acquire(req.Context(), targetURL, nil, func(conn net.Conn, err error, matchedURL string) {
		done <- acquireResult{conn, err}
	})

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return t.roundTripOnConn(req, res.conn)
	case <-req.Context().Done():
		t.pool.CancelAcquire(handle)
		return nil, req.Context().Err()
	}
}

// roundTripOnConn writes the request and reads the response directly off
// conn. Any bytes bufio.NewReader reads ahead of the response boundary are
// discarded along with the reader when the body is closed, so a target that
// pipelines unsolicited bytes past a response would lose them on reuse;
// real upstreams don't do this over a single in-flight request.
func (t *poolTransport) roundTripOnConn(req *http.Request, conn net.Conn) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp.Body = &returningBody{
		ReadCloser: resp.Body,
		transport:  t,
		conn:       conn,
	}
	return resp, nil
}

// returningBody wraps a response body so that closing it, rather than
// closing the underlying socket, hands the socket back to the pool. A
// connection whose body read ended in error is closed directly instead: its
// place in the HTTP exchange left it in an unknown state.
type returningBody struct {
	io.ReadCloser
	transport *poolTransport
	conn      net.Conn

	mu      sync.Mutex
	readErr error
	done    bool
}

func (b *returningBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		b.mu.Lock()
		b.readErr = err
		b.mu.Unlock()
	}
	return n, err
}

func (b *returningBody) Close() error {
	err := b.ReadCloser.Close()

	b.mu.Lock()
	alreadyDone := b.done
	b.done = true
	readErr := b.readErr
	b.mu.Unlock()
	if alreadyDone {
		return err
	}

	if readErr != nil || !b.transport.pool.CanKeepalive() {
		b.conn.Close()
		return err
	}

	if rerr := b.transport.pool.ReturnSocket(b.conn); rerr != nil {
		b.transport.logger.Debug("failed to return socket to pool", "error", rerr)
		b.conn.Close()
	}
	return err
}
