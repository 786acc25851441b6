package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":4711}}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "session-token")
	id, err := c.SendMessage(context.Background(), 1001, "hello there")
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if id != 4711 {
		t.Fatalf("message id = %d, want 4711", id)
	}
	if gotPath != "/messages.send" {
		t.Fatalf("path = %q, want /messages.send", gotPath)
	}
	if gotAuth != "Bearer session-token" {
		t.Fatalf("auth header = %q, want bearer token", gotAuth)
	}
	if gotBody["peer_id"].(float64) != 1001 || gotBody["text"].(string) != "hello there" {
		t.Fatalf("body = %v, want peer_id=1001 text=hello there", gotBody)
	}
}

func TestSendMessageValidation(t *testing.T) {
	c := New(nil, "http://gateway.local", "tok")
	if _, err := c.SendMessage(context.Background(), 0, "hi"); err == nil {
		t.Fatal("SendMessage with zero peer succeeded, want error")
	}
	if _, err := c.SendMessage(context.Background(), 7, "   "); err == nil {
		t.Fatal("SendMessage with blank text succeeded, want error")
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		auth       bool
		fatal      bool
		flood      time.Duration
		wantErrSub string
	}{
		{
			name:       "auth required",
			status:     401,
			body:       `{"ok":false,"error":"login code needed","error_code":"auth_required"}`,
			auth:       true,
			wantErrSub: "gateway http 401",
		},
		{
			name:       "banned",
			status:     403,
			body:       `{"ok":false,"error":"account deleted","error_code":"account_banned"}`,
			fatal:      true,
			wantErrSub: "account deleted",
		},
		{
			name:       "flood wait",
			status:     429,
			body:       `{"ok":false,"error":"too many requests","error_code":"flood_wait","retry_after":17}`,
			flood:      17 * time.Second,
			wantErrSub: "gateway http 429",
		},
		{
			name:       "server error is transient",
			status:     502,
			body:       `{"ok":false,"error":"upstream unavailable"}`,
			wantErrSub: "gateway http 502",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			}))
			defer srv.Close()

			client := New(srv.Client(), srv.URL, "tok")
			_, err := client.SendMessage(context.Background(), 5, "x")
			if err == nil {
				t.Fatal("SendMessage succeeded, want error")
			}
			if !strings.Contains(err.Error(), c.wantErrSub) {
				t.Fatalf("error = %q, want substring %q", err.Error(), c.wantErrSub)
			}
			if got := IsAuthRequired(err); got != c.auth {
				t.Fatalf("IsAuthRequired = %v, want %v", got, c.auth)
			}
			if got := IsFatal(err); got != c.fatal {
				t.Fatalf("IsFatal = %v, want %v", got, c.fatal)
			}
			wait, ok := FloodWait(err)
			if ok != (c.flood > 0) {
				t.Fatalf("FloodWait ok = %v, want %v", ok, c.flood > 0)
			}
			if ok && wait != c.flood {
				t.Fatalf("FloodWait = %v, want %v", wait, c.flood)
			}
		})
	}
}

func TestMarkReadAndTypingPaths(t *testing.T) {
	paths := make([]string, 0, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "tok")
	if err := c.MarkRead(context.Background(), 9, 120); err != nil {
		t.Fatalf("MarkRead error: %v", err)
	}
	if err := c.SendChatAction(context.Background(), 9, ""); err != nil {
		t.Fatalf("SendChatAction error: %v", err)
	}
	want := []string{"/messages.readHistory", "/messages.setTyping"}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("path[%d] = %q, want %q", i, paths[i], p)
		}
	}
}

func TestResolveUsername(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts.resolve" {
			t.Fatalf("path = %q, want /contacts.resolve", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":88123,"username":"ivan_k"}}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "tok")
	u, err := c.ResolveUsername(context.Background(), "@ivan_k")
	if err != nil {
		t.Fatalf("ResolveUsername error: %v", err)
	}
	if u.ID != 88123 {
		t.Fatalf("peer id = %d, want 88123", u.ID)
	}
	if gotBody["username"].(string) != "ivan_k" {
		t.Fatalf("sent username = %v, want ivan_k without the @", gotBody["username"])
	}
}

func TestSubmitLoginCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth.signIn" {
			t.Fatalf("path = %q, want /auth.signIn", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"session_token":"fresh-token"}}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "")
	tok, err := c.SubmitLoginCode(context.Background(), "+15550100", "12345")
	if err != nil {
		t.Fatalf("SubmitLoginCode error: %v", err)
	}
	if tok != "fresh-token" {
		t.Fatalf("session token = %q, want %q", tok, "fresh-token")
	}
}
