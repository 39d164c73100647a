// Package evidence stores the images attached to claims and disputes.
package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
)

const DefaultMaxBytes int64 = 5 * 1024 * 1024

var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// BlobStore keeps image bytes outside the database.
type BlobStore interface {
	ObjectName(key string) string
	Put(ctx context.Context, name, contentType string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Service accepts uploads and vouches for upload references.
type Service struct {
	repo     *Repository
	blobs    BlobStore
	maxBytes int64
}

func NewService(repo *Repository, maxBytes int64) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "evidence repository required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{repo: repo, maxBytes: maxBytes}, nil
}

// WithBlobStore moves new image bytes into store. Uploads already held in
// the database stay readable.
func (s *Service) WithBlobStore(store BlobStore) *Service {
	s.blobs = store
	return s
}

// MaxBytes is the largest accepted upload.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Store validates the image by its leading bytes and persists it for uploaderID.
// The client-declared content type is ignored.
func (s *Service) Store(ctx context.Context, uploaderID uuid.UUID, data []byte) (*models.Upload, error) {
	if uploaderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image is required")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("images must be under %dMB", s.maxBytes/(1024*1024)))
	}
	contentType, err := detectImageType(data)
	if err != nil {
		return nil, err
	}

	upload := &models.Upload{
		ID:          uuid.New(),
		UploaderID:  uploaderID,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	if s.blobs != nil {
		name := s.blobs.ObjectName(upload.ID.String())
		if err := s.blobs.Put(ctx, name, contentType, data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store image")
		}
		upload.StorageKey = &name
	} else {
		upload.Data = data
	}
	if err := s.repo.Create(ctx, upload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store upload")
	}
	return upload, nil
}

// Get returns the stored upload. Ids are random so any authenticated caller may read.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	upload, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load upload")
	}
	if upload.StorageKey == nil || len(upload.Data) > 0 {
		return upload, nil
	}
	if s.blobs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "image storage not configured")
	}
	data, err := s.blobs.Get(ctx, *upload.StorageKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load image")
	}
	upload.Data = data
	return upload, nil
}

// RequireOwned fails with a validation error unless every id is an upload made by ownerID.
// tx may be nil to read outside a transaction.
func (s *Service) RequireOwned(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, ids ...uuid.UUID) error {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := map[uuid.UUID]struct{}{}
	for _, id := range ids {
		if id == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "evidence reference required")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "evidence reference required")
	}

	count, err := s.repo.WithTx(tx).CountOwned(ctx, ownerID, unique)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check evidence")
	}
	if count != int64(len(unique)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "evidence image not found")
	}
	return nil
}

func detectImageType(data []byte) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "images must be JPEG, PNG, WebP, or GIF")
	}
	if _, ok := allowedTypes[kind.MIME.Value]; !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "images must be JPEG, PNG, WebP, or GIF")
	}
	return kind.MIME.Value, nil
}
