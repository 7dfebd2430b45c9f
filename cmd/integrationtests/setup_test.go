package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auction-stream/internal/config"
	model "auction-stream/internal/models"
	"auction-stream/internal/outbox"
	"auction-stream/internal/server"
	"auction-stream/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetOutput(io.Discard)
}

// testServer is a fully wired app behind an httptest server with its worker running
type testServer struct {
	app    *server.App
	http   *httptest.Server
	wsURL  string
	cancel context.CancelFunc
}

// testConfig returns defaults with the acceptance gate disabled so outcomes are deterministic
func testConfig(t *testing.T, instanceID string) *config.Config {
	t.Helper()
	cfg, err := config.LoadWithDefaults("")
	require.NoError(t, err)
	cfg.Instance.ID = instanceID
	cfg.Gate.Disabled = true
	cfg.Outbox.Backend = config.BackendMemory
	cfg.Outbox.PollInterval = 20 * time.Millisecond
	cfg.Broadcast.RedisURL = ""
	return cfg
}

// StartTestServer boots an app and seeds it with the given auctions
func StartTestServer(t *testing.T, cfg *config.Config, auctions ...model.Auction) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	app, err := server.NewApp(ctx, cfg)
	require.NoError(t, err)
	for _, a := range auctions {
		_, err := app.Service.CreateAuction(ctx, a)
		require.NoError(t, err)
	}

	// subscribe before any traffic so peer events are not missed
	require.NoError(t, app.Hub.Start(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Worker.Run(ctx)
	}()
	srv := httptest.NewServer(app.Router)
	WaitDelivered(t, app)

	ts := &testServer{
		app:    app,
		http:   srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + cfg.Server.WSPath,
		cancel: cancel,
	}
	t.Cleanup(func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = app.Sessions.Shutdown(shutdownCtx)
		srv.Close()
		cancel()
		<-done
		app.Close()
	})
	return ts
}

// WaitDelivered blocks until the outbox has handed every staged event to the hub
func WaitDelivered(t *testing.T, app *server.App) {
	t.Helper()
	q, ok := app.Queue.(*outbox.MemoryQueue)
	if !ok {
		return
	}
	require.Eventually(t, q.Idle, 3*time.Second, 5*time.Millisecond)
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		reqBody, err = json.Marshal(v)
		require.NoError(t, err, "failed to marshal body")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to unmarshal response")
	}
	return resp, w
}

// DialSession opens a websocket and consumes the connected greeting and the snapshot
func DialSession(t *testing.T, ts *testServer) (*websocket.Conn, model.AuctionsListPayload) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Equal(t, model.MsgConnected, ReadFrame(t, conn).Type)
	list := ReadFrame(t, conn)
	require.Equal(t, model.MsgAuctionsList, list.Type)

	var snapshot model.AuctionsListPayload
	require.NoError(t, json.Unmarshal(list.Payload, &snapshot))
	return conn, snapshot
}

func ReadFrame(t *testing.T, conn *websocket.Conn) model.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env model.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func SendFrame(t *testing.T, conn *websocket.Conn, msgType model.MessageType, payload any) {
	t.Helper()
	env, err := model.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func watchAuction() model.Auction {
	return model.Auction{ID: "a1", Title: "Vintage Watch", StartingPrice: 1000, MinBidIncrement: 50}
}
