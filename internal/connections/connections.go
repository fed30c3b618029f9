// Package connections wraps the student connection endpoints: browsing
// students, sending and answering connection requests, and managing
// established connections.
package connections

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/campusconnect/campus-cli/internal/api"
	"github.com/campusconnect/campus-cli/internal/output"
)

// Answers accepted by Respond.
const (
	Accept = "accept"
	Reject = "reject"
)

// Requests holds pending requests in both directions.
type Requests struct {
	Sent     []json.RawMessage `json:"sent_requests"`
	Received []json.RawMessage `json:"received_requests"`
}

// Requester sends a request through the authenticated pipeline.
type Requester interface {
	Do(ctx context.Context, r *api.Request) (*api.Response, error)
}

// Service calls the connection endpoints.
type Service struct {
	client Requester
}

// NewService creates a connection service.
func NewService(client Requester) *Service {
	return &Service{client: client}
}

// Students lists students the user can connect with.
func (s *Service) Students(ctx context.Context) (json.RawMessage, error) {
	return s.call(ctx, http.MethodGet, "/api/students/", nil, "Students")
}

// SendRequest asks receiverID to connect.
func (s *Service) SendRequest(ctx context.Context, receiverID string) (json.RawMessage, error) {
	id, err := parseID("receiver", receiverID)
	if err != nil {
		return nil, err
	}
	return s.call(ctx, http.MethodPost, "/api/send-request/", map[string]int{"receiver_id": id}, "User")
}

// Respond accepts or rejects a request addressed to the user.
func (s *Service) Respond(ctx context.Context, requestID, action string) (json.RawMessage, error) {
	id, err := parseID("request", requestID)
	if err != nil {
		return nil, err
	}
	if action != Accept && action != Reject {
		return nil, output.ErrUsageHint(fmt.Sprintf("Invalid action %q", action), "Use accept or reject")
	}
	return s.call(ctx, http.MethodPost, fmt.Sprintf("/api/respond-request/%d/", id), map[string]string{"action": action}, "Connection request")
}

// Cancel withdraws a pending request the user sent.
func (s *Service) Cancel(ctx context.Context, requestID string) (json.RawMessage, error) {
	id, err := parseID("request", requestID)
	if err != nil {
		return nil, err
	}
	return s.call(ctx, http.MethodDelete, fmt.Sprintf("/api/cancel-request/%d/", id), nil, "Request")
}

// Requests returns pending requests sent and received.
func (s *Service) Requests(ctx context.Context) (*Requests, error) {
	data, err := s.call(ctx, http.MethodGet, "/api/my-requests/", nil, "Requests")
	if err != nil {
		return nil, err
	}
	var r Requests
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, output.ErrAPI(http.StatusOK, fmt.Sprintf("Invalid requests response: %v", err))
	}
	if r.Sent == nil {
		r.Sent = []json.RawMessage{}
	}
	if r.Received == nil {
		r.Received = []json.RawMessage{}
	}
	return &r, nil
}

// List returns the user's connections.
func (s *Service) List(ctx context.Context) (json.RawMessage, error) {
	return s.call(ctx, http.MethodGet, "/api/my-connections/", nil, "Connections")
}

// Remove deletes an established connection.
func (s *Service) Remove(ctx context.Context, connectionID string) (json.RawMessage, error) {
	id, err := parseID("connection", connectionID)
	if err != nil {
		return nil, err
	}
	return s.call(ctx, http.MethodDelete, fmt.Sprintf("/api/remove-connection/%d/", id), nil, "Connection")
}

func (s *Service) call(ctx context.Context, method, path string, body any, resource string) (json.RawMessage, error) {
	resp, err := s.client.Do(ctx, &api.Request{Method: method, Path: path, Body: body})
	if err != nil {
		if output.IsCode(err, output.CodeNotFound) {
			return nil, output.ErrNotFound(resource)
		}
		return nil, err
	}
	if len(resp.Data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return resp.Data, nil
}

func parseID(kind, raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, output.ErrUsage(fmt.Sprintf("Invalid %s ID: %s", kind, raw))
	}
	return id, nil
}
