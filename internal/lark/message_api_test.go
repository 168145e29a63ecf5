package lark

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	receiveIDType string
	body          map[string]interface{}
}

func newFakeOpenAPI(t *testing.T, code int, sent *sentMessage) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`)
	})
	mux.HandleFunc("/open-apis/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		sent.receiveIDType = r.URL.Query().Get("receive_id_type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &sent.body)

		w.Header().Set("Content-Type", "application/json")
		if code != 0 {
			json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "msg": "bot is not in the chat"})
			return
		}
		io.WriteString(w, `{"code":0,"msg":"success","data":{"message_id":"om_123"}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestMessageAPI_SendCard(t *testing.T) {
	t.Run("posts interactive card", func(t *testing.T) {
		sent := &sentMessage{}
		server := newFakeOpenAPI(t, 0, sent)
		client := NewClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: server.URL}, zap.NewNop())
		api := NewMessageAPI(client, zap.NewNop())

		card := map[string]interface{}{"header": map[string]interface{}{"template": "green"}}
		id, err := api.SendCard(context.Background(), ReceiveIDChat, "oc_ops", card)
		require.NoError(t, err)

		assert.Equal(t, "om_123", id)
		assert.Equal(t, ReceiveIDChat, sent.receiveIDType)
		assert.Equal(t, "oc_ops", sent.body["receive_id"])
		assert.Equal(t, "interactive", sent.body["msg_type"])
		assert.JSONEq(t, `{"header":{"template":"green"}}`, sent.body["content"].(string))
	})

	t.Run("api failure", func(t *testing.T) {
		sent := &sentMessage{}
		server := newFakeOpenAPI(t, 230002, sent)
		client := NewClient(Config{AppID: "cli_test", AppSecret: "secret", BaseURL: server.URL}, zap.NewNop())
		api := NewMessageAPI(client, zap.NewNop())

		_, err := api.SendCard(context.Background(), ReceiveIDChat, "oc_ops", map[string]interface{}{})
		assert.ErrorContains(t, err, "code=230002")
	})

	t.Run("unencodable card", func(t *testing.T) {
		api := NewMessageAPI(NewClient(Config{AppID: "cli_test", AppSecret: "secret"}, zap.NewNop()), zap.NewNop())

		_, err := api.SendCard(context.Background(), ReceiveIDChat, "oc_ops", map[string]interface{}{"bad": make(chan int)})
		assert.ErrorContains(t, err, "failed to encode card")
	})
}
