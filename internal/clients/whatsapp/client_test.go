package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := New(log, Config{
		BaseURL:  srv.URL,
		APIKey:   "secret-key",
		Instance: "main",
		Timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSendText_RequestShapeAndResult(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"key":{"id":"WAMID-77","fromMe":true},"status":"PENDING"}`)
	}))

	res, err := c.SendText(context.Background(), "5511999990000", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.MessageID != "WAMID-77" {
		t.Fatalf("message id: want=%q got=%q", "WAMID-77", res.MessageID)
	}
	if res.Status != "PENDING" {
		t.Fatalf("status: want=%q got=%q", "PENDING", res.Status)
	}
	if gotPath != "/message/sendText/main" {
		t.Fatalf("path: got %q", gotPath)
	}
	if gotAPIKey != "secret-key" {
		t.Fatalf("apikey header: got %q", gotAPIKey)
	}
	if gotBody["number"] != "5511999990000" {
		t.Fatalf("body number: got %v", gotBody["number"])
	}
	tm, _ := gotBody["textMessage"].(map[string]any)
	if tm["text"] != "hello" {
		t.Fatalf("body text: got %v", tm["text"])
	}
}

func TestSendText_HTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"number not on whatsapp"}`)
	}))

	_, err := c.SendText(context.Background(), "123", "hello")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code: want=400 got=%d", httpErr.StatusCode)
	}
}

func TestConnectionState_NestedAndFlatShapes(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"instance":{"state":"open"}}`)
	}))
	state, err := c.ConnectionState(context.Background())
	if err != nil {
		t.Fatalf("ConnectionState: %v", err)
	}
	if state.State != "open" {
		t.Fatalf("state: want=%q got=%q", "open", state.State)
	}

	c = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state":"connecting"}`)
	}))
	state, err = c.ConnectionState(context.Background())
	if err != nil {
		t.Fatalf("ConnectionState: %v", err)
	}
	if state.State != "connecting" {
		t.Fatalf("state: want=%q got=%q", "connecting", state.State)
	}
}

func TestLogout_UsesDelete(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"status":"SUCCESS"}`)
	}))

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("method: want=DELETE got=%q", gotMethod)
	}
	if gotPath != "/instance/logout/main" {
		t.Fatalf("path: got %q", gotPath)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	if _, err := New(log, Config{APIKey: "k", Instance: "i"}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
	if _, err := New(log, Config{BaseURL: "http://x", Instance: "i"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := New(log, Config{BaseURL: "http://x", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for missing instance")
	}
}
