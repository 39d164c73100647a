package evidence

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/internal/evidence/evidencetest"
	"github.com/angelmondragon/mealrun-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
)

func newTestService(t *testing.T, maxBytes int64) *Service {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(NewRepository(client.DB()), maxBytes)
	require.NoError(t, err)
	return svc
}

func TestStoreSniffsContentType(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()
	owner := uuid.New()

	png, err := svc.Store(ctx, owner, evidencetest.PNG)
	require.NoError(t, err)
	assert.Equal(t, "image/png", png.ContentType)
	assert.Equal(t, int64(len(evidencetest.PNG)), png.SizeBytes)

	gif, err := svc.Store(ctx, owner, evidencetest.GIF)
	require.NoError(t, err)
	assert.Equal(t, "image/gif", gif.ContentType)

	loaded, err := svc.Get(ctx, png.ID)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(evidencetest.PNG, loaded.Data))
}

func TestStoreRejectsBadInput(t *testing.T) {
	svc := newTestService(t, 64)
	ctx := context.Background()

	_, err := svc.Store(ctx, uuid.New(), evidencetest.PDF)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Store(ctx, uuid.New(), nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Store(ctx, uuid.New(), bytes.Repeat([]byte{0x89}, 65))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Store(ctx, uuid.Nil, evidencetest.PNG)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestGetMissingUpload(t *testing.T) {
	svc := newTestService(t, 0)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRequireOwned(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()

	mine, err := svc.Store(ctx, owner, evidencetest.PNG)
	require.NoError(t, err)
	theirs, err := svc.Store(ctx, other, evidencetest.PNG)
	require.NoError(t, err)

	assert.NoError(t, svc.RequireOwned(ctx, nil, owner, mine.ID))
	assert.NoError(t, svc.RequireOwned(ctx, nil, owner, mine.ID, mine.ID))
	assert.True(t, pkgerrors.IsCode(svc.RequireOwned(ctx, nil, owner, theirs.ID), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.IsCode(svc.RequireOwned(ctx, nil, owner, mine.ID, uuid.New()), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.IsCode(svc.RequireOwned(ctx, nil, owner), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.IsCode(svc.RequireOwned(ctx, nil, owner, uuid.Nil), pkgerrors.CodeValidation))
}

type memoryBlobs struct {
	objects map[string][]byte
	putErr  error
}

func (m *memoryBlobs) ObjectName(key string) string { return "evidence/" + key }

func (m *memoryBlobs) Put(_ context.Context, name, _ string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[name] = data
	return nil
}

func (m *memoryBlobs) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, errors.New("object missing")
	}
	return data, nil
}

func TestStoreWithBlobStoreKeepsBytesOutOfDatabase(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(repo, 0)
	require.NoError(t, err)
	blobs := &memoryBlobs{objects: map[string][]byte{}}
	svc.WithBlobStore(blobs)
	ctx := context.Background()

	upload, err := svc.Store(ctx, uuid.New(), evidencetest.PNG)
	require.NoError(t, err)
	require.NotNil(t, upload.StorageKey)
	assert.Equal(t, "evidence/"+upload.ID.String(), *upload.StorageKey)
	assert.Contains(t, blobs.objects, *upload.StorageKey)

	row, err := repo.FindByID(ctx, upload.ID)
	require.NoError(t, err)
	assert.Empty(t, row.Data)

	loaded, err := svc.Get(ctx, upload.ID)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(evidencetest.PNG, loaded.Data))
}

func TestStoreWithBlobStoreFailure(t *testing.T) {
	svc := newTestService(t, 0)
	svc.WithBlobStore(&memoryBlobs{objects: map[string][]byte{}, putErr: errors.New("bucket down")})

	_, err := svc.Store(context.Background(), uuid.New(), evidencetest.PNG)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
