package redis

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer accepts one connection and replies to requests using handler,
// standing in for a real Redis/Valkey node so Connection's handshake and
// multiplexing can be exercised without a network dependency.
func fakeServer(t *testing.T, handler func(verb string, args [][]byte) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		var buf []byte
		tmp := make([]byte, 4096)
		for {
			res := decode(buf, DefaultLimits)
			if res.Status == decodeOK {
				buf = buf[res.Consumed:]
				verb := ""
				var args [][]byte
				if els := res.Value.Array(); len(els) > 0 {
					verb = els[0].String()
					for _, e := range els[1:] {
						args = append(args, e.Bytes())
					}
				}
				reply := handler(verb, args)
				if reply == nil {
					return
				}
				if _, err := conn.Write(reply); err != nil {
					return
				}
				continue
			}
			n, err := br.Read(tmp)
			if err != nil {
				return
			}
			buf = append(buf, tmp[:n]...)
		}
	}()
	return ln.Addr().String()
}

func helloAndPingHandler(verb string, args [][]byte) []byte {
	switch verb {
	case "HELLO":
		return []byte("%1\r\n$6\r\nserver\r\n$5\r\nvalue\r\n")
	case "PING":
		return []byte("+PONG\r\n")
	default:
		return []byte("+OK\r\n")
	}
}

func TestConnectionDialAndSubmitRoundTrip(t *testing.T) {
	addr := fakeServer(t, helloAndPingHandler)
	host, port, err := splitAddr(addr)
	require.NoError(t, err)
	node := newNode(addr, host, port, RolePrimary)

	cfg := defaultConfig(Config{Addresses: []string{addr}})
	conn := NewConnection(node, cfg, newSubscriptionRegistry(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Dial(ctx))
	defer conn.Close()
	require.Equal(t, Ready, conn.State())

	ch := make(chan roundTripResult, 1)
	pr := newPendingRequest(time.Time{}, func(v Value, err error) { ch <- roundTripResult{v, err} })
	require.NoError(t, conn.Submit(encode("PING", nil), pr))

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		require.Equal(t, "PONG", r.v.String())
	case <-time.After(2 * time.Second):
		t.Fatal("submit never completed")
	}
}

func TestConnectionFallsBackToResp2WhenHelloRejected(t *testing.T) {
	addr := fakeServer(t, func(verb string, args [][]byte) []byte {
		switch verb {
		case "HELLO":
			return []byte("-ERR unknown command 'HELLO'\r\n")
		default:
			return []byte("+OK\r\n")
		}
	})
	host, port, err := splitAddr(addr)
	require.NoError(t, err)
	node := newNode(addr, host, port, RolePrimary)

	cfg := defaultConfig(Config{Addresses: []string{addr}, Logger: zap.NewNop()})
	conn := NewConnection(node, cfg, newSubscriptionRegistry(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Dial(ctx))
	defer conn.Close()
	require.Equal(t, Resp2, conn.protocol)
}
