package websocket

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestEcho(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewUpgrader("").Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.SetMessageHandler(func(m []byte) { _ = ws.Write(m) })
		ws.Listen()
	}))
	defer server.Close()

	u, _ := url.Parse("ws" + strings.TrimPrefix(server.URL, "http"))
	client, err := NewClient(*u, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan string, 1)
	client.SetMessageHandler(func(m []byte) { got <- string(m) })
	done := client.Listen()

	if err = client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if m != "hello" {
			t.Errorf("expected hello, got %v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	client.Close()
	<-done
	if err = client.Write([]byte("late")); err != ErrClosed {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestOriginCheck(t *testing.T) {
	u := NewUpgrader("https://example.com")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.com")
	if u.CheckOrigin(r) {
		t.Errorf("a foreign origin should be rejected")
	}
	r.Header.Set("Origin", "https://example.com")
	if !u.CheckOrigin(r) {
		t.Errorf("the configured origin should pass")
	}
}
