package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternhq/tern/pkg/agent"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/handoff"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/runner"
	"github.com/ternhq/tern/pkg/session"
	"github.com/ternhq/tern/pkg/state"
)

type echoAgent struct{}

func (a *echoAgent) Kind() string { return "general" }
func (a *echoAgent) Execute(_ context.Context, task agent.Task, _ func(agent.Update)) (agent.Outcome, error) {
	return agent.Outcome{Summary: "echo: " + task.Prompt}, nil
}
func (a *echoAgent) Close() error { return nil }

type gatewayFixture struct {
	server  *Server
	ts      *httptest.Server
	store   *session.Store
	runner  *runner.Runner
	wsURL   string
	cleanup func()
}

func newGatewayFixture(t *testing.T, heartbeat time.Duration) *gatewayFixture {
	t.Helper()

	store := session.NewStore(zerolog.Nop())
	registry := events.NewRegistry(zerolog.Nop())
	machine := state.NewMachine(store, registry, zerolog.Nop())

	agents := agent.NewRegistry()
	require.NoError(t, agents.Register("general", []string{"research"}, func() (agent.Agent, error) {
		return &echoAgent{}, nil
	}))

	r, err := runner.New(runner.Config{
		Store: store, Machine: machine, Sink: registry, Agents: agents, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	coord, err := handoff.NewCoordinator(handoff.Config{
		Store: store, Catalog: agents, Binder: r, Sink: registry, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Store:             store,
		Runner:            r,
		Coordinator:       coord,
		Agents:            agents,
		Events:            registry,
		HeartbeatInterval: heartbeat,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	return &gatewayFixture{
		server: srv,
		ts:     ts,
		store:  store,
		runner: r,
		wsURL:  wsURL,
		cleanup: func() {
			srv.Shutdown()
			ts.Close()
		},
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Type: msgType, Payload: payload}))
}

// readEnvelope reads frames until one of the wanted types arrives, skipping
// heartbeat pings.
func readEnvelope(t *testing.T, conn *websocket.Conn, wantTypes ...string) (string, json.RawMessage) {
	t.Helper()
	wanted := make(map[string]bool, len(wantTypes))
	for _, w := range wantTypes {
		wanted[w] = true
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&env))
		if len(wanted) == 0 || wanted[env.Type] {
			return env.Type, env.Payload
		}
	}
}

func startChat(t *testing.T, conn *websocket.Conn) protocol.ChatCreated {
	t.Helper()
	send(t, conn, protocol.MsgChatStart, protocol.StartChat{
		AgentType: "general",
		Model:     protocol.ModelRef{ID: "m-1"},
		UserID:    "u-1",
	})
	msgType, payload := readEnvelope(t, conn, protocol.EvtChatStarted, protocol.EvtError)
	require.Equal(t, protocol.EvtChatStarted, msgType)

	var created protocol.ChatCreated
	require.NoError(t, json.Unmarshal(payload, &created))
	return created
}

func TestChatStart(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	created := startChat(t, conn)
	assert.NotEmpty(t, created.ChatID)
	assert.Equal(t, "general", created.AgentType)
	assert.Equal(t, "m-1", created.Model)
	assert.Equal(t, "/v1/ws?chat_id="+created.ChatID, created.WSURL)

	sess, err := f.store.Get(created.ChatID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateIdle, sess.State)
}

func TestChatStartUnknownAgent(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	send(t, conn, protocol.MsgChatStart, protocol.StartChat{
		AgentType: "ghost",
		Model:     protocol.ModelRef{ID: "m-1"},
	})

	msgType, payload := readEnvelope(t, conn, protocol.EvtError)
	require.Equal(t, protocol.EvtError, msgType)

	var detail protocol.ErrorDetail
	require.NoError(t, json.Unmarshal(payload, &detail))
	assert.Equal(t, protocol.CodeAgentNotFound, detail.Code)
	assert.False(t, detail.Recoverable)
}

func TestMessageRoundTrip(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	startChat(t, conn)
	send(t, conn, protocol.MsgMessageSend, protocol.SendMessage{Content: "hello"})

	var states []protocol.ChatState
	for {
		msgType, payload := readEnvelope(t, conn, protocol.EvtStateUpdate, protocol.EvtMessageComplete)
		if msgType == protocol.EvtMessageComplete {
			var complete map[string]interface{}
			require.NoError(t, json.Unmarshal(payload, &complete))
			assert.Equal(t, "echo: hello", complete["summary"])
			break
		}
		var update protocol.StateUpdate
		require.NoError(t, json.Unmarshal(payload, &update))
		states = append(states, update.State)
	}

	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, protocol.StateThinking, states[0])
	assert.Equal(t, protocol.StateComplete, states[len(states)-1])
}

func TestPingPong(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	send(t, conn, protocol.MsgPing, nil)
	msgType, _ := readEnvelope(t, conn, protocol.EvtPong)
	assert.Equal(t, protocol.EvtPong, msgType)
}

func TestUnknownTypeIgnored(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	send(t, conn, "nonsense:type", map[string]string{"x": "y"})

	// The connection survives; a ping still gets its pong.
	send(t, conn, protocol.MsgPing, nil)
	msgType, _ := readEnvelope(t, conn, protocol.EvtPong)
	assert.Equal(t, protocol.EvtPong, msgType)
}

func TestHeartbeat(t *testing.T) {
	f := newGatewayFixture(t, 20*time.Millisecond)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	msgType, _ := readEnvelope(t, conn, protocol.EvtPing)
	assert.Equal(t, protocol.EvtPing, msgType)
}

func TestAttachExistingSession(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	sess := f.store.Create(session.CreateParams{AgentType: "general", Model: "m-1"})
	require.NoError(t, f.runner.Bind(sess.ID, "general"))

	conn := dial(t, f.wsURL+"?chat_id="+sess.ID)
	defer conn.Close()

	send(t, conn, protocol.MsgMessageSend, protocol.SendMessage{Content: "resume me"})
	for {
		msgType, payload := readEnvelope(t, conn, protocol.EvtMessageComplete)
		require.Equal(t, protocol.EvtMessageComplete, msgType)
		var complete map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &complete))
		assert.Equal(t, "echo: resume me", complete["summary"])
		break
	}
}

func TestAttachUnknownSession(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL+"?chat_id=nope")
	defer conn.Close()

	msgType, payload := readEnvelope(t, conn, protocol.EvtError)
	require.Equal(t, protocol.EvtError, msgType)

	var detail protocol.ErrorDetail
	require.NoError(t, json.Unmarshal(payload, &detail))
	assert.Equal(t, protocol.CodeSessionNotFound, detail.Code)
}

func TestSkillToggleAck(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	created := startChat(t, conn)

	send(t, conn, protocol.MsgSkillToggle, protocol.ToggleSkill{SkillID: "research", Enabled: true})
	msgType, payload := readEnvelope(t, conn, protocol.EvtSkillToggleAck, protocol.EvtError)
	require.Equal(t, protocol.EvtSkillToggleAck, msgType)

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &ack))
	assert.Equal(t, created.ChatID, ack["chatId"])
	assert.Equal(t, true, ack["enabled"])
}

func TestModelSwitchAck(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	defer conn.Close()

	created := startChat(t, conn)

	send(t, conn, protocol.MsgModelSwitch, protocol.SwitchModel{NewModelID: "m-2"})
	msgType, _ := readEnvelope(t, conn, protocol.EvtModelSwitchAck, protocol.EvtError)
	require.Equal(t, protocol.EvtModelSwitchAck, msgType)

	sess, err := f.store.Get(created.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "m-2", sess.Model)
}

func TestDisconnectRetainsSession(t *testing.T) {
	f := newGatewayFixture(t, time.Minute)
	defer f.cleanup()

	conn := dial(t, f.wsURL)
	created := startChat(t, conn)
	conn.Close()

	// The registry empties but the session survives for reattachment.
	deadline := time.Now().Add(5 * time.Second)
	for len(f.server.clients.All()) > 0 {
		require.True(t, time.Now().Before(deadline), "client never removed")
		time.Sleep(time.Millisecond)
	}

	_, err := f.store.Get(created.ChatID)
	assert.NoError(t, err)
}
