package tinymq

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/RodrigoJC20/tinymq-client/internal/wire"
)

// fakeBroker listens on a loopback port and delivers every accepted
// connection on conns for the test to drive. Use readFrame/writeFrame
// on the accepted net.Conn.
func fakeBroker(t *testing.T) (addr string, conns chan net.Conn, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	conns = make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
		}
	}()
	return ln.Addr().String(), conns, func() { ln.Close() }
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	acc := wire.NewAccumulator(conn)
	f, err := acc.Next()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn net.Conn, typ wire.Type, flags uint8, payload []byte) {
	t.Helper()
	encoded, err := wire.Encode(typ, flags, payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func dialHost(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestConnectHandshake(t *testing.T) {
	addr, conns, closeFn := fakeBroker(t)
	defer closeFn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn := <-conns
		frame := readFrame(t, conn)
		if frame.Type != wire.CONN {
			t.Errorf("got %s, want CONN", frame.Type)
		}
		if string(frame.Payload) != "alice" {
			t.Errorf("got client id %q, want alice", frame.Payload)
		}
		writeFrame(t, conn, wire.CONNACK, 0, nil)
	}()

	host, port := dialHost(addr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Connect(ctx, host, port, "alice")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	<-done

	if client.State() != Connected {
		t.Fatalf("got state %s, want Connected", client.State())
	}
	if client.ClientID() != "alice" {
		t.Fatalf("got client id %s, want alice", client.ClientID())
	}
}

func TestConnectTimesOutWithoutConnack(t *testing.T) {
	addr, conns, closeFn := fakeBroker(t)
	defer closeFn()

	go func() {
		<-conns // accept and never respond
	}()

	host, port := dialHost(addr)
	ctx := context.Background()

	_, err := Connect(ctx, host, port, "bob", WithConnectTimeout(50*time.Millisecond))
	if err != ErrConnectTimeout {
		t.Fatalf("got %v, want ErrConnectTimeout", err)
	}
}

func TestDisconnectReleasesCorrelationWaiters(t *testing.T) {
	addr, conns, closeFn := fakeBroker(t)
	defer closeFn()

	go func() {
		conn := <-conns
		readFrame(t, conn) // CONN
		writeFrame(t, conn, wire.CONNACK, 0, nil)
		readFrame(t, conn) // MY_TOPICS_REQ, never answered
	}()

	host, port := dialHost(addr)
	client, err := Connect(context.Background(), host, port, "carol")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		_, _, err := client.corr.Request(func() error {
			return client.send(wire.MyTopicsReq, 0, nil)
		}, wire.MyTopicsResp, 5*time.Second)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	client.Disconnect()

	select {
	case err := <-resultCh:
		if err != ErrConnectionLost {
			t.Fatalf("got %v, want ErrConnectionLost", err)
		}
	case <-time.After(time.Second):
		t.Fatal("correlation waiter was not released within bound")
	}
}

func TestStateObserverFiresOnTransitions(t *testing.T) {
	addr, conns, closeFn := fakeBroker(t)
	defer closeFn()

	go func() {
		conn := <-conns
		readFrame(t, conn)
		writeFrame(t, conn, wire.CONNACK, 0, nil)
	}()

	host, port := dialHost(addr)

	var mu sync.Mutex
	var states []State
	client, err := Connect(context.Background(), host, port, "dave")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.ObserveState(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	client.Disconnect()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != Disconnected {
		t.Fatalf("got states %v, want last entry Disconnected", states)
	}
}
