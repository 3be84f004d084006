package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docqa/internal/middleware"
	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/errcode"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/pkg/jwt"
)

var testSecret = []byte("test-secret")

type fakeAuth struct{}

func (fakeAuth) IssueToken(ctx context.Context, key string) (string, string, error) {
	switch key {
	case "admin-key":
		token, err := jwt.GenerateToken("admin", jwt.RoleAdmin, testSecret, time.Minute)
		return token, jwt.RoleAdmin, err
	case "user-key":
		token, err := jwt.GenerateToken("user", jwt.RoleUser, testSecret, time.Minute)
		return token, jwt.RoleUser, err
	}
	return "", "", appErr.ErrUnauthorized
}

type fakeRAG struct {
	mu      sync.Mutex
	ingests map[string][]byte
	err     error
	answer  *model.Answer
	queries []model.Query
}

func (f *fakeRAG) Ingest(ctx context.Context, data []byte, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.ingests[sourceID]; ok {
		return &appErr.IngestionError{SourceID: sourceID, Stage: "validate", Err: appErr.ErrConflict}
	}
	f.ingests[sourceID] = data
	return nil
}

func (f *fakeRAG) Ask(ctx context.Context, q model.Query) (*model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeRAG) Stats(ctx context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{"fragments": len(f.ingests)}, nil
}

type apiResult struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, rag *fakeRAG) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps := RouterDeps{
		Auth:      NewAuthHandler(fakeAuth{}),
		Documents: NewDocumentHandler(rag, 1024),
		Query:     NewQueryHandler(rag),
		Health:    NewHealthHandler(rag),
		JWTSecret: testSecret,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return NewRootHandler(engine)
}

func newFakeRAG() *fakeRAG {
	return &fakeRAG{ingests: map[string][]byte{}}
}

func doJSON(t *testing.T, h http.Handler, path, token string, body interface{}) apiResult {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serve(t, h, req)
}

func serve(t *testing.T, h http.Handler, req *http.Request) apiResult {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func login(t *testing.T, h http.Handler, key string) string {
	t.Helper()
	result := doJSON(t, h, "/api/v1/auth/token", "", map[string]string{"key": key})
	require.Equal(t, 0, result.Code)
	var data tokenResponse
	require.NoError(t, json.Unmarshal(result.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func uploadRequest(t *testing.T, token, name string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestTokenEndpoint(t *testing.T) {
	h := setupRouter(t, newFakeRAG())
	login(t, h, "admin-key")

	result := doJSON(t, h, "/api/v1/auth/token", "", map[string]string{"key": "wrong"})
	require.Equal(t, errcode.ErrUnauthorized, result.Code)
}

func TestTokenEndpointRequiresKey(t *testing.T) {
	h := setupRouter(t, newFakeRAG())
	result := doJSON(t, h, "/api/v1/auth/token", "", map[string]string{})
	require.Equal(t, errcode.ErrInvalid, result.Code)
}

func TestUploadDocument(t *testing.T) {
	rag := newFakeRAG()
	h := setupRouter(t, rag)
	content := []byte("The capital of France is Paris.")

	result := serve(t, h, uploadRequest(t, "", "france.txt", content))
	require.Equal(t, errcode.ErrUnauthorized, result.Code)

	userToken := login(t, h, "user-key")
	result = serve(t, h, uploadRequest(t, userToken, "france.txt", content))
	require.Equal(t, errcode.ErrForbidden, result.Code)

	adminToken := login(t, h, "admin-key")
	result = serve(t, h, uploadRequest(t, adminToken, "../../france.txt", content))
	require.Equal(t, 0, result.Code)
	var data uploadResponse
	require.NoError(t, json.Unmarshal(result.Data, &data))
	require.Equal(t, "france.txt", data.Source)
	require.Equal(t, content, rag.ingests["france.txt"])

	result = serve(t, h, uploadRequest(t, adminToken, "france.txt", content))
	require.Equal(t, errcode.ErrConflict, result.Code)
}

func TestUploadRejectsLargeFile(t *testing.T) {
	rag := newFakeRAG()
	h := setupRouter(t, rag)
	adminToken := login(t, h, "admin-key")

	result := serve(t, h, uploadRequest(t, adminToken, "big.txt", bytes.Repeat([]byte("a"), 2048)))
	require.Equal(t, errcode.ErrInvalidFile, result.Code)
	require.Contains(t, result.Msg, "1KB")
	require.Empty(t, rag.ingests)
}

func TestUploadMissingFile(t *testing.T) {
	h := setupRouter(t, newFakeRAG())
	adminToken := login(t, h, "admin-key")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	result := serve(t, h, req)
	require.Equal(t, errcode.ErrInvalidFile, result.Code)
}

func TestQueryEndpoint(t *testing.T) {
	rag := newFakeRAG()
	rag.answer = &model.Answer{
		Text:     "The capital of France is Paris.",
		Grounded: true,
		Sources: []model.Citation{{
			SourceID:   "france.txt",
			ChunkIndex: 0,
			Content:    "The capital of France is Paris. ",
			FilePath:   "data/docs/france.txt",
			Score:      0.83,
		}},
	}
	h := setupRouter(t, rag)
	token := login(t, h, "user-key")

	threshold := 0.5
	result := doJSON(t, h, "/api/v1/query", token, queryRequest{Query: "What is the capital of France?", TopK: 3, Threshold: &threshold})
	require.Equal(t, 0, result.Code)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Data, &data))
	require.Equal(t, "The capital of France is Paris.", data["answer"])
	sources, _ := data["sources"].([]interface{})
	require.Len(t, sources, 1)
	src, _ := sources[0].(map[string]interface{})
	require.Equal(t, "france.txt", src["source"])
	require.Equal(t, "The capital of France is Paris. ", src["text"])
	require.Equal(t, "data/docs/france.txt", src["file_path"])

	require.Len(t, rag.queries, 1)
	require.Equal(t, 3, rag.queries[0].TopK)
	require.InDelta(t, 0.5, *rag.queries[0].Threshold, 1e-9)
}

func TestQueryEndpointErrors(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		err  error
		code int
	}{
		{name: "bad top_k", body: queryRequest{Query: "q", TopK: 500}, code: errcode.ErrInvalidQuery},
		{name: "empty query", body: queryRequest{Query: " "}, err: appErr.ErrInvalidQuery, code: errcode.ErrInvalidQuery},
		{name: "embedding", body: queryRequest{Query: "q"}, err: &appErr.EmbeddingError{Err: errors.New("down")}, code: errcode.ErrEmbeddingFailed},
		{name: "synthesis", body: queryRequest{Query: "q"}, err: &appErr.SynthesisError{Err: errors.New("down")}, code: errcode.ErrSynthesisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rag := newFakeRAG()
			rag.err = tt.err
			h := setupRouter(t, rag)
			token := login(t, h, "user-key")
			result := doJSON(t, h, "/api/v1/query", token, tt.body)
			require.Equal(t, tt.code, result.Code)
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	h := setupRouter(t, newFakeRAG())
	result := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil))
	require.Equal(t, 0, result.Code)
	require.Contains(t, string(result.Data), `"status":"ok"`)

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "go_goroutines")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: appErr.ErrNotFound, code: errcode.ErrNotFound},
		{err: &appErr.IngestionError{Stage: "load", Err: appErr.ErrInvalid}, code: errcode.ErrInvalidFile},
		{err: &appErr.IngestionError{Stage: "index", Err: errors.New("disk full")}, code: errcode.ErrIngestFailed},
		{err: &appErr.IngestionError{Stage: "embed", Err: &appErr.EmbeddingError{Retryable: true}}, code: errcode.ErrEmbeddingFailed},
		{err: &appErr.IngestionError{Stage: "index", Err: appErr.ErrDimensionMismatch}, code: errcode.ErrIndexUnavailable},
		{err: errors.New("boom"), code: errcode.ErrInternal},
	}
	for _, tt := range tests {
		code, _ := errorCode(tt.err)
		require.Equal(t, tt.code, code, tt.err.Error())
	}
}
