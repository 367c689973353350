package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"storyreel/internal/services"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, summarize(e.Body))
}

// permanentClasses are provider error classes that no retry can fix.
var permanentClasses = map[string]struct{}{
	"content_policy": {},
	"rejected":       {},
}

// markerForStatus maps an HTTP status to an error marker.
func markerForStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return services.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusUnavailableForLegalReasons:
		return services.ErrPermanentProvider
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return services.ErrTransientProvider
	}
	if code >= http.StatusInternalServerError {
		return services.ErrTransientProvider
	}
	return services.ErrPermanentProvider
}

// markerForClass maps a provider-reported error class to an error marker.
// Unknown classes are assumed to be transient.
func markerForClass(class string) error {
	if _, ok := permanentClasses[strings.ToLower(strings.TrimSpace(class))]; ok {
		return services.ErrPermanentProvider
	}
	return services.ErrTransientProvider
}

// TaskError converts a failed poll result into a classified error.
func TaskError(result PollResult) error {
	message := strings.TrimSpace(result.Message)
	if class := strings.TrimSpace(result.ErrorClass); class != "" {
		if message == "" {
			message = class
		} else {
			message = class + ": " + message
		}
	}
	if message == "" {
		message = "task failed without detail"
	}
	return services.Wrap(markerForClass(result.ErrorClass), "provider", "video task", message, nil)
}

// classify wraps a transport or status failure with the right marker.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrCanceled, "provider", operation, "", err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if class := errorClassFromBody(statusErr.Body); class != "" {
			if _, ok := permanentClasses[class]; ok {
				return services.Wrap(services.ErrPermanentProvider, "provider", operation, class, err)
			}
		}
		return services.Wrap(markerForStatus(statusErr.StatusCode), "provider", operation, "", err)
	}
	if isTransportFailure(err) {
		return services.Wrap(services.ErrTransientProvider, "provider", operation, "network failure", err)
	}
	return services.Wrap(services.ErrTransientProvider, "provider", operation, "", err)
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter, true
	}
	return 0, false
}

func summarize(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
