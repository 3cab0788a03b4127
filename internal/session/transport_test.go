package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startEchoRelay(t *testing.T) (url string, received chan []byte) {
	t.Helper()
	received = make(chan []byte, 512)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), received
}

func TestWebsocketConcurrentWritesStayFramed(t *testing.T) {
	url, received := startEchoRelay(t)

	d := &WebsocketDialer{}
	conn, err := d.DialContext(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			frame := fmt.Appendf(nil, `{"type":"typing","from":"writer-%d"}`, id)
			for j := 0; j < perWriter; j++ {
				if err := conn.WriteMessage(frame); err != nil {
					t.Errorf("writer %d: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers*perWriter; i++ {
		select {
		case frame := <-received:
			if !json.Valid(frame) {
				t.Fatalf("relay received a corrupted frame: %q", frame)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("relay received %d of %d frames", i, writers*perWriter)
		}
	}
}
