package remediation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// IntentHandler records the action as an executed intent for downstream orchestrators.
func IntentHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, req Request) (string, error) {
		logger.Info("remediation intent recorded",
			slog.String("kind", string(req.Action.Kind)),
			slog.String("target", req.Action.Target),
			slog.Any("params", req.Action.Params),
		)
		return fmt.Sprintf("%s intent recorded for %s", req.Action.Kind, targetOrDefault(req)), nil
	})
}

// LogHandler writes the triggering context to the log.
func LogHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, req Request) (string, error) {
		attrs := make([]any, 0, len(req.Context)+1)
		attrs = append(attrs, slog.String("target", targetOrDefault(req)))
		for k, v := range req.Context {
			attrs = append(attrs, slog.String(k, v))
		}
		logger.Warn("remediation detail", attrs...)
		return "details logged", nil
	})
}

// NotifyHandler publishes a Notification event.
func NotifyHandler(publisher events.Publisher, clock utils.Clock) Handler {
	return HandlerFunc(func(_ context.Context, req Request) (string, error) {
		publisher.Publish(events.Notification{Action: req.Action, Context: req.Context, At: clock.Now()})
		return fmt.Sprintf("notification sent for %s", targetOrDefault(req)), nil
	})
}

func targetOrDefault(req Request) string {
	if req.Action.Target != "" {
		return req.Action.Target
	}
	for _, key := range []string{"check_id", "threat_id", "source", "key"} {
		if v := req.Context[key]; v != "" {
			return v
		}
	}
	return "unspecified target"
}
