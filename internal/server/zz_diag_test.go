package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/websocket"
)

// Temporary build-validation diagnostic; not part of the suite.
func TestZZDiagWebsocketHandshake(t *testing.T) {
	_, app := newTestServer(t)
	token := authToken(t, app)
	addr := startListener(t, app)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/ws/progress", RawQuery: "token=" + token}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	fmt.Printf("DIAG dial err=%v\n", err)
	if resp != nil {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("DIAG status=%d headers=%v body=%q\n", resp.StatusCode, resp.Header, string(body))
		_ = resp.Body.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func TestZZDiagActivateBody(t *testing.T) {
	_, app := newTestServer(t)
	token := authToken(t, app)
	source := createSourceViaAPI(t, app, token, "alice", "user")

	resp := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/sources/%d/deactivate", source.ID), token, nil)
	b1, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	fmt.Printf("DIAG deactivate status=%d body=%s\n", resp.StatusCode, b1)

	resp = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/sources/%d/activate", source.ID), token, nil)
	b2, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	fmt.Printf("DIAG activate status=%d body=%s\n", resp.StatusCode, b2)
	_ = httptest.NewRequest
}
