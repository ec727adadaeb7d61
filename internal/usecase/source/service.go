package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/repository"
)

// BackendValidator checks a source against the registered backends.
// *harvest.Registry satisfies it.
type BackendValidator interface {
	ValidateSource(src *entity.HarvestSource) error
}

// PendingNotifier announces sources waiting for moderation.
// notify.Service satisfies it.
type PendingNotifier interface {
	SourcePending(ctx context.Context, src *entity.HarvestSource) error
}

// CreateInput represents the input parameters for creating a new source.
type CreateInput struct {
	Name           string
	Slug           string
	Description    string
	URL            string
	Backend        entity.BackendKind
	OrganizationID *string
	OwnerID        *string
	Schedule       string
	Active         *bool // defaults to true
	Filters        []entity.Filter
	Features       map[string]bool
	MaxItems       *int
}

// UpdateInput represents the input parameters for updating an existing source.
// Empty string fields and nil pointer fields will not be updated.
type UpdateInput struct {
	ID          string
	Name        string
	Description *string
	URL         string
	Active      *bool
	Filters     *[]entity.Filter
	Features    map[string]bool
	MaxItems    *int
}

// Service provides source management use cases.
type Service struct {
	Repo     repository.SourceRepository
	Backends BackendValidator // optional
	Notifier PendingNotifier  // optional
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) validate(src *entity.HarvestSource) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if s.Backends != nil {
		if err := s.Backends.ValidateSource(src); err != nil {
			return err
		}
	}
	return nil
}

// Create registers a new source in the pending validation state and
// announces it to moderators. Notification failures are logged only.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.HarvestSource, error) {
	src := &entity.HarvestSource{
		Name:           strings.TrimSpace(in.Name),
		Slug:           in.Slug,
		Description:    in.Description,
		URL:            strings.TrimSpace(in.URL),
		Backend:        in.Backend,
		OrganizationID: in.OrganizationID,
		OwnerID:        in.OwnerID,
		Schedule:       in.Schedule,
		Active:         true,
		Filters:        in.Filters,
		Features:       in.Features,
		MaxItems:       in.MaxItems,
		Validation:     entity.SourceValidation{State: entity.ValidationPending},
		CreatedAt:      s.now(),
	}
	if in.Active != nil {
		src.Active = *in.Active
	}
	src.EnsureSlug()
	if src.Slug == "" {
		return nil, &entity.ValidationError{Field: "slug", Message: "slug cannot be derived from name"}
	}
	if err := s.validate(src); err != nil {
		return nil, fmt.Errorf("validate source: %w", err)
	}
	if err := s.Repo.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	logging.FromContext(ctx).Info("harvest source created",
		slog.String("source_id", src.ID),
		slog.String("slug", src.Slug),
		slog.String("backend", string(src.Backend)))

	if s.Notifier != nil {
		if err := s.Notifier.SourcePending(ctx, src); err != nil {
			logging.FromContext(ctx).Warn("source pending notification failed",
				slog.String("source_id", src.ID),
				slog.Any("error", err))
		}
	}
	return src, nil
}

// Get returns a source by id, including soft-deleted ones.
func (s *Service) Get(ctx context.Context, id string) (*entity.HarvestSource, error) {
	if id == "" {
		return nil, &entity.ValidationError{Field: "id", Message: "is required"}
	}
	src, err := s.Repo.Get(ctx, id)
	return found(src, err)
}

// GetBySlug returns a source by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*entity.HarvestSource, error) {
	if slug == "" {
		return nil, &entity.ValidationError{Field: "slug", Message: "is required"}
	}
	src, err := s.Repo.GetBySlug(ctx, slug)
	return found(src, err)
}

func found(src *entity.HarvestSource, err error) (*entity.HarvestSource, error) {
	if errors.Is(err, entity.ErrNotFound) || (err == nil && src == nil) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

// List returns all sources ordered by name.
func (s *Service) List(ctx context.Context, includeDeleted bool) ([]*entity.HarvestSource, error) {
	sources, err := s.Repo.List(ctx, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// ListSchedulable returns the sources the scheduler should register.
func (s *Service) ListSchedulable(ctx context.Context) ([]*entity.HarvestSource, error) {
	sources, err := s.Repo.ListSchedulable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedulable sources: %w", err)
	}
	return sources, nil
}

// liveSource loads a source that has not been soft-deleted.
func (s *Service) liveSource(ctx context.Context, id string) (*entity.HarvestSource, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if src.IsDeleted() {
		return nil, ErrSourceDeleted
	}
	return src, nil
}

// Update modifies an existing source. Changing the URL of an accepted
// source does not reset its validation.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*entity.HarvestSource, error) {
	src, err := s.liveSource(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		src.Name = strings.TrimSpace(in.Name)
	}
	if in.Description != nil {
		src.Description = *in.Description
	}
	if in.URL != "" {
		src.URL = strings.TrimSpace(in.URL)
	}
	if in.Active != nil {
		src.Active = *in.Active
	}
	if in.Filters != nil {
		src.Filters = *in.Filters
	}
	if in.Features != nil {
		src.Features = in.Features
	}
	if in.MaxItems != nil {
		src.MaxItems = in.MaxItems
	}

	if err := s.validate(src); err != nil {
		return nil, fmt.Errorf("validate source: %w", err)
	}
	if err := s.Repo.Update(ctx, src); err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	return src, nil
}

// Validate records a moderation decision. state must be accepted or refused.
func (s *Service) Validate(ctx context.Context, id string, state entity.ValidationState, by, comment string) (*entity.HarvestSource, error) {
	if state != entity.ValidationAccepted && state != entity.ValidationRefused {
		return nil, ErrInvalidDecision
	}
	src, err := s.liveSource(ctx, id)
	if err != nil {
		return nil, err
	}
	on := s.now()
	src.Validation = entity.SourceValidation{
		State:   state,
		By:      by,
		Comment: comment,
		On:      &on,
	}
	if err := s.Repo.Update(ctx, src); err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}

	logging.FromContext(ctx).Info("harvest source moderated",
		slog.String("source_id", src.ID),
		slog.String("state", string(state)),
		slog.String("by", by))
	return src, nil
}

// Schedule sets the cron expression of a source.
func (s *Service) Schedule(ctx context.Context, id, expr string) (*entity.HarvestSource, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &entity.ValidationError{Field: "schedule", Message: "is required"}
	}
	if err := entity.ValidateSchedule(expr); err != nil {
		return nil, err
	}
	return s.setSchedule(ctx, id, expr)
}

// Unschedule clears the schedule; the source can still be run manually.
func (s *Service) Unschedule(ctx context.Context, id string) (*entity.HarvestSource, error) {
	return s.setSchedule(ctx, id, "")
}

func (s *Service) setSchedule(ctx context.Context, id, expr string) (*entity.HarvestSource, error) {
	src, err := s.liveSource(ctx, id)
	if err != nil {
		return nil, err
	}
	src.Schedule = expr
	if err := s.Repo.Update(ctx, src); err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	return src, nil
}

// SoftDelete marks a source deleted. Its datasets are left untouched and
// its jobs kept until PurgeDeleted.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	if _, err := s.liveSource(ctx, id); err != nil {
		return err
	}
	if err := s.Repo.SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

// PurgeDeleted hard-deletes sources soft-deleted more than retention ago,
// together with their jobs.
func (s *Service) PurgeDeleted(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, &entity.ValidationError{Field: "retention", Message: "must not be negative"}
	}
	n, err := s.Repo.PurgeDeleted(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge deleted sources: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).Info("purged deleted harvest sources", slog.Int64("count", n))
	}
	return n, nil
}
