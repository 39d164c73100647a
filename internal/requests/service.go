package requests

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/dining"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox"
	"github.com/angelmondragon/mealrun-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mealrun-backend/pkg/pagination"
)

const (
	minDescriptionLen = 10
	maxDescriptionLen = 500

	DefaultReservationWindow = 5 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the request/reservation manager.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*RequestDTO, error)
	Reserve(ctx context.Context, requestID, fulfillerID uuid.UUID) (*RequestDTO, error)
	Release(ctx context.Context, requestID, fulfillerID uuid.UUID) error
	ListAvailable(ctx context.Context, callerID uuid.UUID) ([]RequestDTO, error)
	Get(ctx context.Context, requestID, callerID uuid.UUID) (*RequestDTO, error)
	ListMine(ctx context.Context, requesterID uuid.UUID) ([]RequestDTO, error)
	ListAll(ctx context.Context, params pagination.Params, status *enums.MealRequestStatus) (*pagination.Page[RequestDTO], error)
}

// Options tunes the reservation lease and clock.
type Options struct {
	ReservationWindow time.Duration
	Now               func() time.Time
}

type service struct {
	repo   *Repository
	tx     txRunner
	outbox outbox.Emitter
	window time.Duration
	now    func() time.Time
}

func NewService(repo *Repository, tx txRunner, emitter outbox.Emitter, opts Options) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "requests repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if opts.ReservationWindow <= 0 {
		opts.ReservationWindow = DefaultReservationWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: emitter,
		window: opts.ReservationWindow,
		now:    opts.Now,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

func (s *service) Create(ctx context.Context, input CreateInput) (*RequestDTO, error) {
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	description := strings.TrimSpace(input.Description)
	if n := utf8.RuneCountInString(description); n < minDescriptionLen || n > maxDescriptionLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description must be 10-500 characters")
	}
	location, ok := dining.Lookup(input.DiningLocation)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dining location")
	}
	restaurant, ok := location.Restaurant(input.RestaurantName)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid restaurant for this dining location")
	}

	request := &models.MealRequest{
		RequesterID:    input.RequesterID,
		DiningLocation: location.Name,
		RestaurantName: restaurant,
		Description:    description,
		Status:         enums.MealRequestStatusPending,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create meal request")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestCreated,
			AggregateType: enums.AggregateMealRequest,
			AggregateID:   request.ID,
			Actor:         &outbox.ActorRef{UserID: input.RequesterID, Role: outbox.ActorRoleRequester},
			Data: payloads.RequestCreatedEvent{
				RequestID:      request.ID,
				RequesterID:    request.RequesterID,
				DiningLocation: request.DiningLocation,
				RestaurantName: request.RestaurantName,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	dto := NewRequestDTO(*request, s.clock(), s.window)
	return &dto, nil
}

func (s *service) Reserve(ctx context.Context, requestID, fulfillerID uuid.UUID) (*RequestDTO, error) {
	if fulfillerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var reserved *models.MealRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		request, err := loadForUpdate(ctx, repo, requestID)
		if err != nil {
			return err
		}
		if request.Status != enums.MealRequestStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already claimed")
		}
		if request.RequesterID == fulfillerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot fulfill your own request")
		}
		now := s.clock()
		if request.ReservationActive(now, s.window) && *request.ReservedByID != fulfillerID {
			return pkgerrors.New(pkgerrors.CodeConflict, "someone else is claiming this order")
		}
		if err := repo.SetReservation(ctx, request.ID, &fulfillerID, &now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve request")
		}
		request.ReservedByID = &fulfillerID
		request.ReservedAt = &now
		reserved = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := NewRequestDTO(*reserved, s.clock(), s.window)
	return &dto, nil
}

func (s *service) Release(ctx context.Context, requestID, fulfillerID uuid.UUID) error {
	if fulfillerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		request, err := loadForUpdate(ctx, repo, requestID)
		if err != nil {
			return err
		}
		if request.Status != enums.MealRequestStatusPending ||
			request.ReservedByID == nil || *request.ReservedByID != fulfillerID {
			return pkgerrors.New(pkgerrors.CodeConflict, "no reservation to release")
		}
		if err := repo.SetReservation(ctx, request.ID, nil, nil); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reservation")
		}
		return nil
	})
}

func (s *service) ListAvailable(ctx context.Context, callerID uuid.UUID) ([]RequestDTO, error) {
	if callerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	now := s.clock()
	rows, err := s.repo.ListAvailable(ctx, callerID, now.Add(-s.window))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list available requests")
	}
	out := make([]RequestDTO, 0, len(rows))
	for _, row := range rows {
		// the query filters on the stored lease; re-check against the same clock
		if row.ReservationActive(now, s.window) && *row.ReservedByID != callerID {
			continue
		}
		out = append(out, NewRequestDTO(row, now, s.window))
	}
	return out, nil
}

// Get is visible to the requester and the assigned fulfiller only.
func (s *service) Get(ctx context.Context, requestID, callerID uuid.UUID) (*RequestDTO, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
	}
	assigned := request.Fulfillment != nil && request.Fulfillment.FulfillerID == callerID
	if request.RequesterID != callerID && !assigned {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	dto := NewRequestDTO(*request, s.clock(), s.window)
	return &dto, nil
}

func (s *service) ListMine(ctx context.Context, requesterID uuid.UUID) ([]RequestDTO, error) {
	if requesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, err := s.repo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list requests")
	}
	now := s.clock()
	out := make([]RequestDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewRequestDTO(row, now, s.window))
	}
	return out, nil
}

// ListAll backs the admin order list.
func (s *service) ListAll(ctx context.Context, params pagination.Params, status *enums.MealRequestStatus) (*pagination.Page[RequestDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListAll(ctx, params.Limit, cursor, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	now := s.clock()
	dtos := make([]RequestDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, NewRequestDTO(row, now, s.window))
	}
	page := pagination.Trim(dtos, params.Limit, func(d RequestDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	})
	return &page, nil
}

func loadForUpdate(ctx context.Context, repo *Repository, id uuid.UUID) (*models.MealRequest, error) {
	request, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
	}
	return request, nil
}
