package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiresignal-server/internal/proto"
)

// ws_smoke connects two peers and relays an OFFER between them. With
// -expire it instead offers to a peer that never connects and waits for
// the server to answer with EXPIRE.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:9000/peerjs", "signaling WebSocket address")
	key := flag.String("key", "peerjs", "server key")
	tokenA := flag.String("token-a", "smoke-a", "token for the first peer")
	tokenB := flag.String("token-b", "smoke-b", "token for the second peer")
	expire := flag.Bool("expire", false, "wait for EXPIRE instead of relaying to a live peer")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	connA, err := dial(ctx, *base, *key, "smoke-a", *tokenA)
	if err != nil {
		return err
	}
	defer connA.Close(websocket.StatusNormalClosure, "bye")

	offer := proto.Envelope{Type: "OFFER", Dst: "smoke-b", Payload: json.RawMessage(`{"sdp":"smoke"}`)}

	if *expire {
		offer.Dst = "smoke-absent"
		if err := wsjson.Write(ctx, connA, offer); err != nil {
			return fmt.Errorf("send offer: %w", err)
		}
		fmt.Println("offer queued, waiting for EXPIRE")
		env, err := waitFor(ctx, connA, "EXPIRE")
		if err != nil {
			return err
		}
		fmt.Printf("EXPIRE: src=%s dst=%s\n", env.Src, env.Dst)
		return nil
	}

	connB, err := dial(ctx, *base, *key, "smoke-b", *tokenB)
	if err != nil {
		return err
	}
	defer connB.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, connA, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	env, err := waitFor(ctx, connB, "OFFER")
	if err != nil {
		return err
	}
	fmt.Printf("OFFER: src=%s dst=%s payload=%s\n", env.Src, env.Dst, env.Payload)
	return nil
}

func dial(ctx context.Context, base, key, id, token string) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("key", key)
	q.Set("id", id)
	q.Set("token", token)

	conn, _, err := websocket.Dial(ctx, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", id, err)
	}
	if _, err := waitFor(ctx, conn, "OPEN"); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	fmt.Printf("%s connected\n", id)
	return conn, nil
}

func waitFor(ctx context.Context, conn *websocket.Conn, kind string) (proto.Envelope, error) {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return env, fmt.Errorf("read: %w", err)
		}
		switch env.Type {
		case kind:
			return env, nil
		case "ERROR", "ID-TAKEN":
			return env, fmt.Errorf("server rejected: %s %s", env.Type, env.Payload)
		default:
			fmt.Printf("Received: type=%s src=%s\n", env.Type, env.Src)
		}
	}
}
