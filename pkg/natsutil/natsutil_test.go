package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type payload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	if c.Get("traceparent") != "" || c.Keys() != nil {
		t.Fatal("empty carrier should report nothing")
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("got %q", got)
	}
	if len(c.Keys()) != 1 {
		t.Fatalf("unexpected keys %v", c.Keys())
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan payload, 1)
	sub, err := Subscribe(nc, "test.pub", func(_ context.Context, p payload) { ch <- p })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("test.pub", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "test.pub", payload{Name: "hello", Value: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-ch:
		if p.Name != "hello" || p.Value != 1 {
			t.Fatalf("unexpected %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
	select {
	case p := <-ch:
		t.Fatalf("malformed message should be dropped, got %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestReply(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Reply(nc, "test.double", "workers", func(_ context.Context, p payload) (payload, error) {
		return payload{Name: p.Name, Value: p.Value * 2}, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	got, err := Request[payload, payload](context.Background(), nc, "test.double", payload{Name: "x", Value: 21})
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 42 || got.Name != "x" {
		t.Fatalf("unexpected %+v", got)
	}
}

var errBoom = errors.New("boom")

func TestReplyError(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Reply(nc, "test.fail", "workers", func(context.Context, payload) (payload, error) {
		return payload{}, errBoom
	}, func(error) string { return "prediction" })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = Request[payload, payload](context.Background(), nc, "test.fail", payload{})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Kind != "prediction" || re.Message != "boom" || re.Subject != "test.fail" {
		t.Fatalf("unexpected %+v", re)
	}
}

func TestReplyMalformedRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Reply(nc, "test.strict", "", func(_ context.Context, p payload) (payload, error) {
		return p, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := nc.Request("test.strict", []byte("{nope"), 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(HeaderErrorKind) != "decode" || resp.Header.Get(HeaderError) == "" {
		t.Fatalf("expected decode error headers, got %v", resp.Header)
	}
}

func TestRequestNoResponder(t *testing.T) {
	nc := startTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := Request[payload, payload](ctx, nc, "test.nobody", payload{}); err == nil {
		t.Fatal("expected error without responders")
	}
}

func TestRequestBadReply(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("test.garbage", func(m *nats.Msg) { m.Respond([]byte("<html>")) })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = Request[payload, payload](context.Background(), nc, "test.garbage", payload{})
	var se *json.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
