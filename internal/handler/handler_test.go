package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/auth"
	"github.com/prn-tf/imagevault/internal/cache/memory"
	"github.com/prn-tf/imagevault/internal/codec"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/lock"
	"github.com/prn-tf/imagevault/internal/metrics"
	"github.com/prn-tf/imagevault/internal/repository"
	"github.com/prn-tf/imagevault/internal/repository/sqlite"
	"github.com/prn-tf/imagevault/internal/service"
	"github.com/prn-tf/imagevault/internal/worker"
)

const testSecret = "handler-test-secret"

// syncUsage applies increments inline so tests can assert exact counts.
type syncUsage struct {
	repo  repository.BlobRepository
	cache repository.Cache
}

func (s syncUsage) Record(id string) {
	ctx := context.Background()
	if s.repo.IncrementUsage(ctx, id) == nil {
		_ = s.cache.Delete(ctx, repository.CacheKeys.Thumbnail(id))
	}
}

type testServer struct {
	handler http.Handler
	repo    repository.BlobRepository
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "handler.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	repo := sqlite.NewBlobRepository(db)
	m := metrics.New()
	cache := memory.NewCache(100)
	t.Cleanup(cache.Close)

	codecPool := worker.NewPool(worker.Config{Name: "codec", Workers: 2, QueueSize: 4}, m)
	deliveryPool := worker.NewPool(worker.Config{Name: "delivery", Workers: 2, QueueSize: 4}, m)

	ingest := service.NewIngestService(repo, codec.NewProcessor(codec.DefaultOptions()), codecPool, m, logger, service.IngestConfig{
		MaxUploadSize: 1 << 20,
		AllowedTypes:  []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		ChunkSize:     1024,
	})
	delivery := service.NewDeliveryService(repo, cache, deliveryPool, syncUsage{repo: repo, cache: cache}, m, logger, time.Minute)
	catalog := service.NewCatalogService(repo, cache, logger)
	retention := service.NewRetentionService(repo, nil, cache, lock.NewMemoryLocker(), m, logger, service.DefaultRetentionConfig())

	authCfg := auth.DefaultConfig()
	authCfg.Secret = testSecret

	router := NewRouter(RouterConfig{
		ImageHandler:   NewImageHandler(ingest, delivery, catalog, retention, ImageHandlerConfig{MaxUploadSize: 1 << 20}, logger),
		HealthHandler:  NewHealthHandler(db, "test", logger),
		AuthMiddleware: auth.Middleware(authCfg),
		Metrics:        m,
		Logger:         logger,
	})
	h, err := router.Handler()
	require.NoError(t, err)

	return &testServer{handler: h, repo: repo, metrics: m}
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, "", user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func jpegBytes(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Duplicate  bool            `json:"duplicate"`
	Data       json.RawMessage `json:"data"`
	Pagination *PaginationView `json:"pagination"`
	Error      ErrorBody       `json:"error"`
}

type blobJSON struct {
	ID            string                `json:"id"`
	Hash          string                `json:"hash"`
	Mimetype      string                `json:"mimetype"`
	UsageCount    int64                 `json:"usageCount"`
	OwnerID       string                `json:"ownerId"`
	AttachmentRef *domain.AttachmentRef `json:"attachmentRef"`
	URL           string                `json:"url"`
	ThumbnailURL  string                `json:"thumbnailUrl"`
	FormattedSize string                `json:"formattedSize"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeBlob(t *testing.T, env envelope) blobJSON {
	t.Helper()
	var b blobJSON
	require.NoError(t, json.Unmarshal(env.Data, &b))
	return b
}

func (s *testServer) do(t *testing.T, method, path, tok string, body *bytes.Buffer, contentType string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok != "" {
		req.Header.Set(auth.AuthorizationHeader, auth.BearerPrefix+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, tok string, data []byte, mimetype string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if data != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="image"; filename="photo.jpg"`)
		header.Set("Content-Type", mimetype)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	return s.do(t, http.MethodPost, "/images/upload", tok, &body, mw.FormDataContentType(), nil)
}

func (s *testServer) info(t *testing.T, tok, id string) blobJSON {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/images/"+id+"/info", tok, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBlob(t, decode(t, rec))
}

func TestUploadAndFetch(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "alice", "agent")

	rec := s.upload(t, tok, jpegBytes(t, 64, 48, 1), "image/jpeg", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.False(t, env.Duplicate)

	blob := decodeBlob(t, env)
	require.NotEmpty(t, blob.ID)
	assert.Equal(t, "alice", blob.OwnerID)
	assert.Equal(t, int64(1), blob.UsageCount)
	assert.Equal(t, "image/webp", blob.Mimetype)
	assert.Equal(t, "/images/"+blob.ID, blob.URL)
	assert.NotEmpty(t, blob.FormattedSize)
	assert.NotContains(t, rec.Body.String(), `"chunks"`)
	assert.NotContains(t, rec.Body.String(), `"thumbnail"`)

	t.Run("full image", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/images/"+blob.ID, tok, nil, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
		assert.Equal(t, CacheControl, rec.Header().Get("Cache-Control"))
		assert.Equal(t, blob.Hash, rec.Header().Get("ETag"))
		assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
		assert.Equal(t, fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))

		_, err := codec.Decode(rec.Body.Bytes())
		assert.NoError(t, err)
		assert.Equal(t, int64(2), s.info(t, tok, blob.ID).UsageCount)
	})

	t.Run("not modified", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/images/"+blob.ID, tok, nil, "", map[string]string{
			"If-None-Match": `"` + blob.Hash + `"`,
		})
		assert.Equal(t, http.StatusNotModified, rec.Code)
		assert.Zero(t, rec.Body.Len())
		assert.Equal(t, blob.Hash, rec.Header().Get("ETag"))
		assert.Equal(t, int64(2), s.info(t, tok, blob.ID).UsageCount)
	})

	t.Run("thumbnail does not count usage", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec := s.do(t, http.MethodGet, "/images/"+blob.ID+"/thumbnail", tok, nil, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, domain.ThumbnailETagPrefix+blob.Hash, rec.Header().Get("ETag"))
			assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
		}
		assert.Equal(t, int64(2), s.info(t, tok, blob.ID).UsageCount)

		rec := s.do(t, http.MethodGet, "/images/"+blob.ID+"/thumbnail", tok, nil, "", map[string]string{
			"If-None-Match": domain.ThumbnailETagPrefix + blob.Hash,
		})
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})

	t.Run("query token", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/images/"+blob.ID+"/thumbnail?token="+tok, "", nil, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("each full fetch counts once", func(t *testing.T) {
		before := s.info(t, tok, blob.ID).UsageCount
		for i := 0; i < 3; i++ {
			rec := s.do(t, http.MethodGet, "/images/"+blob.ID, tok, nil, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
		}
		assert.Equal(t, before+3, s.info(t, tok, blob.ID).UsageCount)
	})
}

func TestUpload_Dedup(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "alice", "agent")
	data := jpegBytes(t, 32, 32, 7)

	t.Run("with attachment target", func(t *testing.T) {
		first := s.upload(t, tok, data, "image/jpeg", map[string]string{"targetId": "ticket-1"})
		require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
		second := s.upload(t, tok, data, "image/jpeg", map[string]string{"targetId": "ticket-1", "subIndex": "2"})
		require.Equal(t, http.StatusOK, second.Code, second.Body.String())

		env := decode(t, second)
		assert.True(t, env.Duplicate)
		a, b := decodeBlob(t, decode(t, first)), decodeBlob(t, env)
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, int64(2), s.info(t, tok, a.ID).UsageCount)
	})

	t.Run("without attachment target", func(t *testing.T) {
		other := jpegBytes(t, 32, 32, 9)
		first := s.upload(t, tok, other, "image/jpeg", nil)
		second := s.upload(t, tok, other, "image/jpeg", nil)
		require.Equal(t, http.StatusCreated, first.Code)
		require.Equal(t, http.StatusCreated, second.Code)

		a, b := decodeBlob(t, decode(t, first)), decodeBlob(t, decode(t, second))
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, a.Hash, b.Hash)
	})

	t.Run("other owner", func(t *testing.T) {
		rec := s.upload(t, token(t, "bob", "agent"), data, "image/jpeg", map[string]string{"targetId": "ticket-1"})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "alice", "agent")

	tests := []struct {
		name       string
		tok        string
		data       []byte
		mimetype   string
		fields     map[string]string
		wantStatus int
		wantCode   string
	}{
		{"no token", "", jpegBytes(t, 8, 8, 1), "image/jpeg", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"no file", tok, nil, "", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad mimetype", tok, []byte("hello"), "text/plain", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad subIndex", tok, jpegBytes(t, 8, 8, 1), "image/jpeg", map[string]string{"targetId": "t", "subIndex": "-1"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"subIndex without target", tok, jpegBytes(t, 8, 8, 1), "image/jpeg", map[string]string{"subIndex": "1"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"corrupt image", tok, []byte("not really a jpeg"), "image/jpeg", nil, http.StatusUnprocessableEntity, "PROCESSING_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.upload(t, tt.tok, tt.data, tt.mimetype, tt.fields)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestFetch_Errors(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, "alice", "agent")

	rec := s.do(t, http.MethodGet, "/images/not-a-uuid", tok, nil, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/images/7d3f8a52-6a0e-4c1b-9a57-3c4d5e6f7a8b", tok, nil, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Error.Code)

	rec = s.do(t, http.MethodGet, "/images/7d3f8a52-6a0e-4c1b-9a57-3c4d5e6f7a8b/thumbnail", tok, nil, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	alice := token(t, "alice", "agent")

	create := func() string {
		rec := s.upload(t, alice, jpegBytes(t, 16, 16, 3), "image/jpeg", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		return decodeBlob(t, decode(t, rec)).ID
	}

	id := create()
	rec := s.do(t, http.MethodDelete, "/images/"+id, token(t, "bob", "agent"), nil, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/images/"+id, alice, nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/images/"+id, alice, nil, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id = create()
	rec = s.do(t, http.MethodDelete, "/images/"+id, token(t, "root", "admin"), nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListings(t *testing.T) {
	s := newTestServer(t)
	alice := token(t, "alice", "agent")

	for i := 0; i < 3; i++ {
		rec := s.upload(t, alice, jpegBytes(t, 16, 16, uint8(10+i)), "image/jpeg", map[string]string{"targetId": "ticket-9"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := s.upload(t, token(t, "bob", "agent"), jpegBytes(t, 16, 16, 50), "image/jpeg", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("my images", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/images/my/images?page=1&limit=2&sortBy=createdAt&sortOrder=asc", alice, nil, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		env := decode(t, rec)
		require.NotNil(t, env.Pagination)
		assert.Equal(t, PaginationView{Page: 1, Limit: 2, Total: 3, Pages: 2}, *env.Pagination)

		var items []blobJSON
		require.NoError(t, json.Unmarshal(env.Data, &items))
		assert.Len(t, items, 2)
	})

	t.Run("invalid paging", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=101", "page=abc", "sortBy=hash", "sortOrder=up"} {
			rec := s.do(t, http.MethodGet, "/images/my/images?"+q, alice, nil, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("by attachment", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/images/by-attachment/ticket-9", alice, nil, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var items []blobJSON
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &items))
		assert.Len(t, items, 3)
		for _, it := range items {
			require.NotNil(t, it.AttachmentRef)
			assert.Equal(t, "ticket-9", it.AttachmentRef.TargetID)
		}
	})
}

func TestAttachDetach(t *testing.T) {
	s := newTestServer(t)
	alice := token(t, "alice", "agent")

	rec := s.upload(t, alice, jpegBytes(t, 16, 16, 20), "image/jpeg", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBlob(t, decode(t, rec)).ID

	body := bytes.NewBufferString(`{"targetId":"ticket-4","subIndex":1}`)
	rec = s.do(t, http.MethodPut, "/images/"+id+"/attachment", alice, body, "application/json", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	blob := decodeBlob(t, decode(t, rec))
	require.NotNil(t, blob.AttachmentRef)
	assert.Equal(t, "ticket-4", blob.AttachmentRef.TargetID)
	require.NotNil(t, blob.AttachmentRef.SubIndex)
	assert.Equal(t, 1, *blob.AttachmentRef.SubIndex)

	rec = s.do(t, http.MethodPut, "/images/"+id+"/attachment", token(t, "bob", "agent"),
		bytes.NewBufferString(`{"targetId":"ticket-5"}`), "application/json", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/images/"+id+"/attachment", alice, bytes.NewBufferString(`{"target":1}`), "application/json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/images/"+id+"/attachment", alice, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	blob = decodeBlob(t, decode(t, rec))
	assert.Nil(t, blob.AttachmentRef)
	assert.Equal(t, int64(1), blob.UsageCount)
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodDelete, "/images/admin/cleanup", token(t, "alice", "agent"), nil, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := token(t, "root", "admin")
	for _, q := range []string{"daysOld=0", "daysOld=366", "daysOld=x", "dryRun=maybe"} {
		rec := s.do(t, http.MethodDelete, "/images/admin/cleanup?"+q, admin, nil, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = s.do(t, http.MethodDelete, "/images/admin/cleanup?daysOld=7&dryRun=true", admin, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dry CleanupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dry))
	assert.True(t, dry.Success)
	assert.True(t, dry.DryRun)
	assert.Zero(t, dry.DeletedCount)

	rec = s.do(t, http.MethodDelete, "/images/admin/cleanup", admin, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res CleanupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Cleaned up 0 unused images", res.Message)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "imagevault_http_requests_total"))
}

func TestJSONIsGzipped(t *testing.T) {
	s := newTestServer(t)
	alice := token(t, "alice", "agent")

	for i := 0; i < 20; i++ {
		rec := s.upload(t, alice, jpegBytes(t, 8, 8, uint8(100+i)), "image/jpeg", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/images/my/images?limit=100", alice, nil, "", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}
