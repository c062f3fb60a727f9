package gateway

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func startTestServer(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fasthttp.Server{Handler: handler}
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Shutdown()
	})

	return "http://" + ln.Addr().String()
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("missing base url", func(t *testing.T) {
		_, err := NewClient(&Config{})
		assert.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		c, err := NewClient(&Config{BaseURL: "http://localhost"})
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, c.config.Timeout)
		assert.Equal(t, 512, c.config.MaxConns)
	})
}

func TestClient_SendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte

	base := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		gotAuth = string(ctx.Request.Header.Peek("Authorization"))
		gotBody = append([]byte(nil), ctx.PostBody()...)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"messages":[{"id":"wamid.accepted-1"}]}`)
	})

	client, err := NewClient(&Config{BaseURL: base, Timeout: 2 * time.Second})
	require.NoError(t, err)

	creds := Credentials{PhoneNumberID: "100200300", AccessToken: "tok"}
	resp, err := client.SendText(context.Background(), creds, "5215550001", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.accepted-1", resp.MetaMessageID)
	assert.Equal(t, "/100200300/messages", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "whatsapp", payload["messaging_product"])
	assert.Equal(t, "text", payload["type"])
	assert.Equal(t, "5215550001", payload["to"])
}

func TestClient_SendMedia(t *testing.T) {
	var gotBody []byte
	base := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		gotBody = append([]byte(nil), ctx.PostBody()...)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"messages":[{"id":"wamid.accepted-2"}]}`)
	})

	client, err := NewClient(&Config{BaseURL: base, Timeout: 2 * time.Second})
	require.NoError(t, err)
	creds := Credentials{PhoneNumberID: "100200300", AccessToken: "tok"}

	t.Run("media object keyed by type", func(t *testing.T) {
		resp, err := client.SendMedia(context.Background(), creds, "5215550001",
			model.TypeImage, "https://cdn.example.com/pic.jpg", "a picture")
		require.NoError(t, err)
		assert.Equal(t, "wamid.accepted-2", resp.MetaMessageID)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(gotBody, &payload))
		assert.Equal(t, "image", payload["type"])
		image, ok := payload["image"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "https://cdn.example.com/pic.jpg", image["link"])
		assert.Equal(t, "a picture", image["caption"])
	})

	t.Run("rejects non-media type", func(t *testing.T) {
		_, err := client.SendMedia(context.Background(), creds, "5215550001",
			model.TypeText, "https://cdn.example.com/pic.jpg", "")
		assert.Error(t, err)
	})
}

func TestClient_SendText_Rejected(t *testing.T) {
	base := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":{"message":"recipient not on whatsapp","type":"OAuthException","code":131026}}`)
	})

	client, err := NewClient(&Config{BaseURL: base, Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = client.SendText(context.Background(), Credentials{PhoneNumberID: "1", AccessToken: "t"}, "52", "x")
	assert.ErrorIs(t, err, ErrSendRejected)
	assert.Contains(t, err.Error(), "recipient not on whatsapp")
}

func TestClient_GetMediaInfo(t *testing.T) {
	base := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/media-ok":
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"id":"media-ok","url":"https://cdn.example.com/blob","mime_type":"image/jpeg","sha256":"abc","file_size":1234}`)
		case "/media-gone":
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		case "/media-denied":
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		default:
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		}
	})

	client, err := NewClient(&Config{BaseURL: base, Timeout: 2 * time.Second})
	require.NoError(t, err)
	creds := Credentials{PhoneNumberID: "1", AccessToken: "t"}

	t.Run("success", func(t *testing.T) {
		info, err := client.GetMediaInfo(context.Background(), creds, "media-ok")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", info.MimeType)
		assert.Equal(t, int64(1234), info.FileSize)
	})

	t.Run("not found is permanent", func(t *testing.T) {
		_, err := client.GetMediaInfo(context.Background(), creds, "media-gone")
		assert.ErrorIs(t, err, ErrMediaNotFound)
	})

	t.Run("auth failure", func(t *testing.T) {
		_, err := client.GetMediaInfo(context.Background(), creds, "media-denied")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("server error is transient", func(t *testing.T) {
		_, err := client.GetMediaInfo(context.Background(), creds, "media-broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMediaNotFound)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})
}

func TestClient_Download(t *testing.T) {
	blob := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	base := startTestServer(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Request.Header.Peek("Authorization")) != "Bearer t" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		ctx.SetBody(blob)
	})

	client, err := NewClient(&Config{BaseURL: base, Timeout: 2 * time.Second})
	require.NoError(t, err)

	got, err := client.Download(context.Background(), Credentials{AccessToken: "t"}, base+"/blob")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}
