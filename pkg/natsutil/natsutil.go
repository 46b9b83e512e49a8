// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Headers carrying a handler failure back to the requester.
const (
	HeaderError     = "Wessley-Error"
	HeaderErrorKind = "Wessley-Error-Kind"
)

// DefaultTimeout bounds Request when ctx has no deadline.
const DefaultTimeout = 5 * time.Second

// RemoteError is a failure reported by the replying service.
type RemoteError struct {
	Subject string
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("nats %s: %s", e.Subject, e.Message)
	}
	return fmt.Sprintf("nats %s: %s: %s", e.Subject, e.Kind, e.Message)
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

func extract(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
}

// Publish serializes v as JSON and publishes it to subject.
// Trace context from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that receives JSON messages of type T.
// Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		handler(extract(msg), v)
	})
}

// Request sends req to subject and decodes the JSON reply. A reply carrying
// HeaderError is returned as *RemoteError. Without a ctx deadline the call
// is bounded by DefaultTimeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	if m := resp.Header.Get(HeaderError); m != "" {
		return zero, &RemoteError{Subject: subject, Kind: resp.Header.Get(HeaderErrorKind), Message: m}
	}
	var out Resp
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return zero, fmt.Errorf("natsutil: decode %s reply: %w", subject, err)
	}
	return out, nil
}

// Reply serves request/reply on subject through a queue group, so several
// instances share the load. A handler error is sent back in the error
// headers, labelled by kind(err) when kind is non-nil.
func Reply[Req, Resp any](nc *nats.Conn, subject, queue string, handler func(context.Context, Req) (Resp, error), kind func(error) string) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respondErr(msg, "decode", err)
			return
		}
		resp, err := handler(extract(msg), req)
		if err != nil {
			k := ""
			if kind != nil {
				k = kind(err)
			}
			respondErr(msg, k, err)
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			respondErr(msg, "encode", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn("natsutil: respond failed", "subject", msg.Subject, "err", err)
		}
	})
}

func respondErr(msg *nats.Msg, kind string, err error) {
	out := nats.NewMsg(msg.Reply)
	out.Header.Set(HeaderError, err.Error())
	if kind != "" {
		out.Header.Set(HeaderErrorKind, kind)
	}
	if err := msg.RespondMsg(out); err != nil {
		slog.Warn("natsutil: respond failed", "subject", msg.Subject, "err", err)
	}
}
