package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/queue"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/store"
)

// Limits bounds what callers may submit.
type Limits struct {
	MaxTarget  int
	JobTimeout time.Duration
}

var DefaultLimits = Limits{MaxTarget: 5000, JobTimeout: time.Hour}

// Service accepts campaigns and jobs and reports their progress.
type Service struct {
	store     store.Store
	router    *router.Router
	publisher queue.Publisher
	bus       event.Bus
	validate  *validator.Validate
	limits    Limits
	now       func() time.Time
}

func NewService(s store.Store, r *router.Router, p queue.Publisher, bus event.Bus, limits Limits) *Service {
	if limits.MaxTarget <= 0 {
		limits.MaxTarget = DefaultLimits.MaxTarget
	}
	if limits.JobTimeout <= 0 {
		limits.JobTimeout = DefaultLimits.JobTimeout
	}
	return &Service{
		store:     s,
		router:    r,
		publisher: p,
		bus:       bus,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		limits:    limits,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return apperrors.New(apperrors.ErrInvalidInput, strings.Join(fields, "; "))
		}
		return apperrors.Wrap(err, apperrors.ErrInvalidInput, "invalid request")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ event.EventType, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event.Event{Type: typ, Timestamp: s.now(), Payload: payload}); err != nil {
		log.Warn().Err(err).Str("event", string(typ)).Msg("event handler failed")
	}
}

func notFound(err error, code, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.Wrap(err, code, what+" not found")
	}
	return apperrors.Wrap(err, apperrors.ErrPersistence, "load "+what)
}
