// Package pvclient is a Redis pub/sub client for reading and writing
// simulator control variables from other processes.
package pvclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beamsim/spearsim/internal/protocol"
)

// DefaultTimeout bounds a single request/response round trip.
const DefaultTimeout = 5 * time.Second

// RemoteError is a non-transport failure reported by the simulator, such as
// an unknown variable or a read-only write.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteOutcome reports what the simulator stored after a write. A clamped or
// refused request is not an error: Stored differs from Requested.
type WriteOutcome struct {
	Name      string
	Requested string
	Stored    string
}

// Accepted reports whether the stored value matches the request verbatim.
func (o WriteOutcome) Accepted() bool {
	return o.Stored == o.Requested
}

// Client talks to one simulator instance over Redis pub/sub.
type Client struct {
	rdb        *redis.Client
	source     protocol.Source
	instance   string
	dispatcher *responseDispatcher
	timeout    time.Duration
}

// New creates a client for the simulator instance named by target. The
// source identifies this client in message envelopes; responses arrive on
// its own response channel, so Run must be started before Read or Write.
func New(rdb *redis.Client, source protocol.Source, target string) *Client {
	return &Client{
		rdb:        rdb,
		source:     source,
		instance:   target,
		dispatcher: newResponseDispatcher(),
		timeout:    DefaultTimeout,
	}
}

// ResponseChannel returns the channel this client listens on.
func (c *Client) ResponseChannel() string {
	return protocol.ResponseChannel(c.source.Service, c.source.Instance)
}

// Run subscribes to the client's response channel and dispatches responses
// to waiting callers. It blocks until ctx is cancelled and automatically
// re-subscribes if the connection drops.
func (c *Client) Run(ctx context.Context) {
	channel := c.ResponseChannel()

	for {
		if ctx.Err() != nil {
			return
		}

		sub := c.rdb.Subscribe(ctx, channel)
		ch := sub.Channel()

		func() {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						log.Println("pvclient: subscription channel closed, reconnecting...")
						return
					}
					parsed, err := protocol.Parse([]byte(msg.Payload))
					if err != nil {
						log.Printf("pvclient: parse error: %v", err)
						continue
					}
					if !c.dispatcher.Dispatch(parsed) {
						log.Printf("pvclient: no waiter for correlation_id=%s", parsed.Envelope.CorrelationID)
					}
				}
			}
		}()

		// Back off before retrying
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// Read fetches the current value of a variable as its string form.
func (c *Client) Read(ctx context.Context, name string) (string, error) {
	resp, err := c.roundTrip(ctx, protocol.TypePVReadRequest, protocol.ReadRequestPayload{Name: name})
	if err != nil {
		return "", err
	}

	payload, err := protocol.ParseReadResponse(resp)
	if err != nil {
		return "", err
	}
	if payload.Error != nil {
		return "", &RemoteError{Code: payload.Error.Code, Message: payload.Error.Message}
	}
	if payload.Value == nil {
		return "", fmt.Errorf("read %s: response carried no value", name)
	}
	return *payload.Value, nil
}

// Write requests a new value for a variable and reports what was stored.
func (c *Client) Write(ctx context.Context, name, value string) (WriteOutcome, error) {
	resp, err := c.roundTrip(ctx, protocol.TypePVWriteRequest, protocol.WriteRequestPayload{Name: name, Value: value})
	if err != nil {
		return WriteOutcome{}, err
	}

	payload, err := protocol.ParseWriteResponse(resp)
	if err != nil {
		return WriteOutcome{}, err
	}
	if payload.Error != nil {
		return WriteOutcome{}, &RemoteError{Code: payload.Error.Code, Message: payload.Error.Message}
	}
	return WriteOutcome{
		Name:      payload.Name,
		Requested: payload.Requested,
		Stored:    payload.Stored,
	}, nil
}

// roundTrip publishes a request to the simulator's request channel and waits
// for the correlated response.
func (c *Client) roundTrip(ctx context.Context, msgType string, payload interface{}) (*protocol.Message, error) {
	msg, err := protocol.NewRequest(c.source, msgType, c.ResponseChannel(), payload)
	if err != nil {
		return nil, err
	}

	waiterCh := c.dispatcher.Register(msg.Envelope.CorrelationID)

	data, err := json.Marshal(msg)
	if err != nil {
		c.dispatcher.Deregister(msg.Envelope.CorrelationID)
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if err := c.rdb.Publish(ctx, protocol.RequestChannel(c.instance), string(data)).Err(); err != nil {
		c.dispatcher.Deregister(msg.Envelope.CorrelationID)
		return nil, fmt.Errorf("publish request: %w", err)
	}

	select {
	case resp, ok := <-waiterCh:
		if !ok {
			return nil, fmt.Errorf("request cancelled (correlation_id=%s)", msg.Envelope.CorrelationID)
		}
		return resp, nil

	case <-time.After(c.timeout):
		c.dispatcher.Deregister(msg.Envelope.CorrelationID)
		return nil, fmt.Errorf("timeout waiting for response (correlation_id=%s)", msg.Envelope.CorrelationID)

	case <-ctx.Done():
		c.dispatcher.Deregister(msg.Envelope.CorrelationID)
		return nil, ctx.Err()
	}
}
