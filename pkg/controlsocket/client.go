package controlsocket

import (
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds how long the CLI waits for the daemon's socket.
const dialTimeout = 2 * time.Second

// Client is a thin synchronous request/response wrapper for the `vt` CLI.
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(req Message) (Message, error) {
	if err := WriteMessage(c.conn, req); err != nil {
		return Message{}, err
	}
	return ReadMessage(c.conn)
}

// Status sends STATUS_REQUEST and decodes the response.
func (c *Client) Status() (StatusResponse, error) {
	resp, err := c.roundTrip(Message{Type: TypeStatusRequest})
	if err != nil {
		return StatusResponse{}, err
	}
	if resp.Type == TypeError {
		return StatusResponse{}, decodeError(resp)
	}
	var out StatusResponse
	if err := decode(resp.Payload, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

// GitFollow sends a GIT_FOLLOW_REQUEST and decodes the response.
func (c *Client) GitFollow(req GitFollowRequest) (GitFollowResponse, error) {
	resp, err := c.roundTrip(Message{Type: TypeGitFollowRequest, Payload: encode(req)})
	if err != nil {
		return GitFollowResponse{}, err
	}
	if resp.Type == TypeError {
		return GitFollowResponse{}, decodeError(resp)
	}
	var out GitFollowResponse
	if err := decode(resp.Payload, &out); err != nil {
		return GitFollowResponse{}, err
	}
	return out, nil
}

// NotifyGitEvent sends a GIT_EVENT_NOTIFY and waits for the ack.
func (c *Client) NotifyGitEvent(ev GitEventNotify) error {
	resp, err := c.roundTrip(Message{Type: TypeGitEventNotify, Payload: encode(ev)})
	if err != nil {
		return err
	}
	if resp.Type == TypeError {
		return decodeError(resp)
	}
	return nil
}

func decodeError(msg Message) error {
	var e ErrorPayload
	if err := decode(msg.Payload, &e); err != nil {
		return fmt.Errorf("controlsocket: unreadable error response")
	}
	return fmt.Errorf("controlsocket: %s: %s", e.Code, e.Message)
}
