package gcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
)

type fakeBucket struct {
	mu       sync.Mutex
	uploads  int
	lastType string
	objects  map[string][]byte
}

func (f *fakeBucket) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/b/meal-evidence/o"):
			f.uploads++
			f.lastType = r.Header.Get("Content-Type")
			_, _ = w.Write([]byte(`{"name":"stored","bucket":"meal-evidence"}`))
		case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
			name := r.URL.Path[strings.LastIndex(r.URL.Path, "/o/")+3:]
			body, ok := f.objects[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/b/meal-evidence"):
			_, _ = w.Write([]byte(`{"name":"meal-evidence"}`))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func newTestClient(t *testing.T, bucket *fakeBucket, bucketName string) *Client {
	t.Helper()
	server := httptest.NewServer(bucket.handler(t))
	t.Cleanup(server.Close)
	client, err := newClient(context.Background(),
		config.GCSConfig{BucketName: bucketName, ObjectPrefix: "/evidence/"},
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return client
}

func TestObjectNameUsesPrefix(t *testing.T) {
	client := newTestClient(t, &fakeBucket{}, "meal-evidence")
	assert.Equal(t, "evidence/abc", client.ObjectName("abc"))
	assert.Equal(t, "meal-evidence", client.Bucket())

	client.prefix = ""
	assert.Equal(t, "abc", client.ObjectName("abc"))
}

func TestPutUploadsMedia(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	client := newTestClient(t, bucket, "meal-evidence")

	require.NoError(t, client.Put(context.Background(), "evidence/abc", "image/png", []byte{0x89, 0x50, 0x4e, 0x47}))
	assert.Equal(t, 1, bucket.uploads)
	assert.NotEmpty(t, bucket.lastType)
}

func TestGetReadsObjectAndMapsNotFound(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{"present": []byte("pixels")}}
	client := newTestClient(t, bucket, "meal-evidence")

	data, err := client.Get(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)

	_, err = client.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestPing(t *testing.T) {
	require.NoError(t, newTestClient(t, &fakeBucket{}, "meal-evidence").Ping(context.Background()))
	assert.Error(t, newTestClient(t, &fakeBucket{}, "other-bucket").Ping(context.Background()))
}

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := newClient(context.Background(), config.GCSConfig{}, option.WithoutAuthentication())
	assert.Error(t, err)
}
