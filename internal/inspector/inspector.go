package inspector

import (
	"context"
	"errors"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/Harvey-AU/index-inspector/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// DefaultCooldown is the pause applied after the service signals rate limiting
const DefaultCooldown = 24 * time.Hour

// ResultStore persists successful inspections
type ResultStore interface {
	Put(inspectionURL string, result inspection.Result) error
}

// Inspector wraps a Service with failure classification, rate-limit cooldowns
// and write-through caching of successful results.
type Inspector struct {
	service  Service
	store    ResultStore
	cooldown time.Duration
	sleep    util.Sleeper
}

// New creates an Inspector. A negative cooldown selects DefaultCooldown.
func New(service Service, store ResultStore, cooldown time.Duration) *Inspector {
	if service == nil {
		panic("inspection service is required")
	}
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return &Inspector{
		service:  service,
		store:    store,
		cooldown: cooldown,
		sleep:    util.SleepContext,
	}
}

// Inspect performs one remote inspection.
//
// On success the result is written to the store before it is returned. When the
// service is rate limiting, Inspect sleeps for the cooldown and then returns an
// error for which IsRetryable is true; the caller should send the same request
// again. Transport and other remote failures are returned as non-retryable
// *Error values. Context cancellation is returned as ctx.Err().
func (i *Inspector) Inspect(ctx context.Context, req inspection.Request) (inspection.Result, error) {
	result, err := i.service.InspectURL(ctx, req.InspectionURL, req.SiteURL)
	if err == nil {
		if i.store != nil {
			if putErr := i.store.Put(req.InspectionURL, result); putErr != nil {
				log.Warn().
					Err(putErr).
					Str("url", req.InspectionURL).
					Msg("Failed to write inspection result to cache")
			}
		}
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return inspection.Result{}, ctxErr
	}

	var ie *Error
	if !errors.As(err, &ie) {
		ie = &Error{Kind: KindRemote, URL: req.InspectionURL, Err: err}
	}

	switch ie.Kind {
	case KindRateLimited:
		log.Info().
			Str("property", req.Property).
			Str("url", req.InspectionURL).
			Int("status_code", ie.StatusCode).
			Dur("cooldown", i.cooldown).
			Msg("Request limit exceeded, pausing before retry")

		if sleepErr := i.sleep(ctx, i.cooldown); sleepErr != nil {
			return inspection.Result{}, sleepErr
		}

		log.Info().
			Str("property", req.Property).
			Str("url", req.InspectionURL).
			Msg("Resuming after rate limit pause")

	case KindTransport:
		log.Warn().
			Err(ie).
			Str("property", req.Property).
			Str("url", req.InspectionURL).
			Msg("Secure channel failure, skipping URL")

	default:
		log.Warn().
			Err(ie).
			Str("property", req.Property).
			Str("url", req.InspectionURL).
			Int("status_code", ie.StatusCode).
			Msg("Inspection failed, skipping URL")

		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("property", req.Property)
			scope.SetTag("failure_kind", string(ie.Kind))
			scope.SetContext("inspection", map[string]any{
				"url":         req.InspectionURL,
				"site_url":    req.SiteURL,
				"status_code": ie.StatusCode,
			})
			sentry.CaptureException(ie)
		})
	}

	return inspection.Result{}, ie
}
