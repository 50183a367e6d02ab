package pins

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/MarcoPoloResearchLab/spotter/internal/images"
	"github.com/MarcoPoloResearchLab/spotter/internal/ratelimit"
	"go.uber.org/zap"
)

// Publisher receives every pin once it is committed. Implementations must
// not block the caller.
type Publisher interface {
	Publish(ctx context.Context, pin Pin)
}

// IngestMetrics observes the creation pipeline.
type IngestMetrics interface {
	PinCreated()
	RateLimitDecision(allowed bool)
}

// Creator persists validated drafts.
type Creator interface {
	Create(ctx context.Context, draft Draft) (Pin, error)
}

// CreateRequest is a pin submission as received from a client.
type CreateRequest struct {
	Principal   *auth.Principal
	Lat         *float64
	Lng         *float64
	Description string
	ImageURL    *string
	Image       *images.Upload
}

// IngestorConfig describes the dependencies of the creation pipeline.
type IngestorConfig struct {
	Store     Creator
	Limiter   ratelimit.Limiter
	Images    images.Store
	Publisher Publisher
	Metrics   IngestMetrics
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Ingestor runs a pin creation through authentication, validation, rate
// control, image storage, persistence, and broadcast.
type Ingestor struct {
	store     Creator
	limiter   ratelimit.Limiter
	images    images.Store
	publisher Publisher
	metrics   IngestMetrics
	clock     func() time.Time
	logger    *zap.Logger
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Pin) {}

type noopMetrics struct{}

func (noopMetrics) PinCreated()            {}
func (noopMetrics) RateLimitDecision(bool) {}

// NewIngestor constructs the creation pipeline.
func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opIngestorNew, "missing_store", errMissingStore)
	}
	if cfg.Limiter == nil {
		return nil, newServiceError(opIngestorNew, "missing_limiter", errMissingLimiter)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ingestor{
		store:     cfg.Store,
		limiter:   cfg.Limiter,
		images:    cfg.Images,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Create admits and persists a pin, then hands it to the publisher.
func (i *Ingestor) Create(ctx context.Context, request CreateRequest) (Pin, error) {
	if request.Principal == nil || request.Principal.OwnerID <= 0 {
		return Pin{}, apperrors.ErrUnauthenticated
	}
	ownerID := request.Principal.OwnerID

	if request.Lat == nil {
		return Pin{}, apperrors.NewValidationError("lat", "is required")
	}
	if request.Lng == nil {
		return Pin{}, apperrors.NewValidationError("lng", "is required")
	}
	draft := Draft{
		OwnerID:     ownerID,
		Lat:         *request.Lat,
		Lng:         *request.Lng,
		Description: NormalizeDescription(request.Description),
		ImageURL:    request.ImageURL,
	}
	if err := ValidateDraft(draft); err != nil {
		return Pin{}, err
	}

	admittedAt := i.clock()
	decision, err := i.limiter.Admit(ctx, ownerID, admittedAt)
	if err != nil {
		logError(i.logger, opIngest, "limiter_failed", err, zap.Int64("owner_id", ownerID))
		return Pin{}, newServiceError(opIngest, "limiter_failed", err)
	}
	i.metrics.RateLimitDecision(decision.Allowed)
	if !decision.Allowed {
		return Pin{}, &apperrors.RateLimitedError{
			RetryAfter: decision.RetryAfter,
			Limit:      i.limiter.Capacity(),
			Window:     i.limiter.Window(),
		}
	}

	if request.Image != nil {
		draft.ImageURL = i.storeImage(ctx, ownerID, *request.Image, draft.ImageURL)
	}

	pin, err := i.store.Create(ctx, draft)
	if err != nil {
		if releaseErr := i.limiter.Release(context.WithoutCancel(ctx), ownerID, admittedAt); releaseErr != nil {
			i.logger.Warn("failed to release rate limit slot",
				zap.Int64("owner_id", ownerID),
				zap.Error(releaseErr))
		}
		var validationErr *apperrors.ValidationError
		if errors.As(err, &validationErr) {
			return Pin{}, err
		}
		return Pin{}, newServiceError(opIngest, "persist_failed", err)
	}

	i.metrics.PinCreated()
	i.publisher.Publish(ctx, pin)
	i.logger.Info("pin created",
		zap.Int64("pin_id", pin.PinID),
		zap.Int64("owner_id", ownerID),
		zap.Int("remaining", decision.Remaining))
	return pin, nil
}

// storeImage saves the upload and falls back to the supplied reference when
// the image store is missing or fails.
func (i *Ingestor) storeImage(ctx context.Context, ownerID int64, upload images.Upload, fallback *string) *string {
	if i.images == nil {
		i.logger.Warn("image upload ignored: no image store configured", zap.Int64("owner_id", ownerID))
		return fallback
	}
	url, err := i.images.Save(ctx, upload)
	if err != nil {
		i.logger.Warn("image upload failed; pin stored without it",
			zap.Int64("owner_id", ownerID),
			zap.String("file", upload.Filename),
			zap.Error(err))
		return fallback
	}
	return &url
}
