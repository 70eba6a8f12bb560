package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-go/internal/config"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/chunker"
	"docchat-go/pkg/database"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/extractor"
	"docchat-go/pkg/lock"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/vectorstore"
)

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "answer based on context", nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	index := vectorstore.NewMemoryIndex(64)
	pipe := pipeline.New(extractor.New(0), chunker.Default(), embedding.NewHashClient(64), index, echoGenerator{}, lock.NewKeyedMutex(), pipeline.Options{})
	docs := service.NewDocumentService(repository.NewDocumentRepository(db), store, pipe, nil)
	chats := service.NewChatService(repository.NewChatRepository(db), pipe)

	return NewRouter(Handlers{
		Document: NewDocumentHandler(docs, 1),
		Chat:     NewChatHandler(chats),
		Index:    NewIndexHandler(index),
	})
}

func do(t *testing.T, r http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadBody(t *testing.T, fileName, title string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		require.NoError(t, mw.WriteField("title", title))
	}
	fw, err := mw.CreateFormFile("document", fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDocumentLifecycle(t *testing.T) {
	r := newTestRouter(t)

	body, ct := uploadBody(t, "manual.txt", "Manual", []byte("press the red button to start the machine"))
	w := do(t, r, http.MethodPost, "/api/v1/documents", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc struct {
		ID         uint   `json:"id"`
		Title      string `json:"title"`
		Processed  bool   `json:"processed"`
		ChunkCount int    `json:"chunkCount"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &doc))
	assert.Equal(t, "Manual", doc.Title)
	assert.True(t, doc.Processed)
	assert.Equal(t, 1, doc.ChunkCount)

	w = do(t, r, http.MethodGet, "/api/v1/index/stats", nil, "")
	assert.JSONEq(t, `{"entries":1}`, string(decode(t, w).Data))

	w = do(t, r, http.MethodGet, "/api/v1/documents?processed=true", nil, "")
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	assert.Len(t, list, 1)

	path := fmt.Sprintf("/api/v1/documents/%d", doc.ID)
	w = do(t, r, http.MethodDelete, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, r, http.MethodGet, "/api/v1/index/stats", nil, "")
	assert.JSONEq(t, `{"entries":0}`, string(decode(t, w).Data))
}

func TestUpload_Errors(t *testing.T) {
	r := newTestRouter(t)

	body, ct := uploadBody(t, "deck.pptx", "", []byte("x"))
	w := do(t, r, http.MethodPost, "/api/v1/documents", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = uploadBody(t, "bad.txt", "", []byte{0xff, 0xfe})
	w = do(t, r, http.MethodPost, "/api/v1/documents", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w).Message, "Error processing document")

	w = do(t, r, http.MethodPost, "/api/v1/documents", []byte("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = uploadBody(t, "huge.txt", "", bytes.Repeat([]byte("a"), 2<<20))
	w = do(t, r, http.MethodPost, "/api/v1/documents", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/documents/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func createSession(t *testing.T, r http.Handler) uint {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/v1/chat/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var s struct {
		ID    uint   `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &s))
	assert.Equal(t, "New Chat", s.Title)
	return s.ID
}

func TestSendMessage(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	path := fmt.Sprintf("/api/v1/chat/sessions/%d/messages", id)

	// 索引为空时返回引导提示
	w := do(t, r, http.MethodPost, path, []byte(`{"message":"hello?"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status   string `json:"status"`
		Response string `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, pipeline.DefaultNoDocumentsText, resp.Response)

	body, ct := uploadBody(t, "a.txt", "", []byte("the sky is blue"))
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/api/v1/documents", body, ct).Code)

	w = do(t, r, http.MethodPost, path, []byte(`{"message":"what colour is the sky?"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "answer based on context", resp.Response)

	w = do(t, r, http.MethodGet, fmt.Sprintf("/api/v1/chat/sessions/%d", id), nil, "")
	var session struct {
		Title    string                   `json:"title"`
		Messages []map[string]interface{} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &session))
	assert.Equal(t, "hello?", session.Title)
	assert.Len(t, session.Messages, 4)

	w = do(t, r, http.MethodPost, path, []byte(`{"message":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/chat/sessions/999/messages", []byte(`{"message":"x"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSession(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	path := fmt.Sprintf("/api/v1/chat/sessions/%d", id)

	require.Equal(t, http.StatusOK, do(t, r, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, path, nil, "").Code)

	w := do(t, r, http.MethodGet, "/api/v1/chat/sessions", nil, "")
	assert.JSONEq(t, `[]`, string(decode(t, w).Data))
}

func TestWebsocketChat(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/chat/ws/%d", id)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"anyone there?"}`)))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "response", frame.Type)
	assert.Equal(t, pipeline.DefaultNoDocumentsText, frame.Response)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("   ")))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
}

func TestWebsocketUnknownSession(t *testing.T) {
	r := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws/77"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
