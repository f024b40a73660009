// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// statusRecorder remembers the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, status and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			entry := logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			})
			if rec.status >= http.StatusBadRequest {
				entry.Warn("HTTP Request")
				return
			}
			entry.Debug("HTTP Request")
		})
	}
}

// LogInteraction logs a verified Discord interaction before it is dispatched.
func LogInteraction(logger *logrus.Logger, inter *discordgo.Interaction, name string) {
	fields := logrus.Fields{
		"interaction": inter.ID,
		"type":        inter.Type.String(),
		"name":        name,
		"guild":       inter.GuildID,
	}
	if inter.Member != nil && inter.Member.User != nil {
		fields["user"] = inter.Member.User.ID
	} else if inter.User != nil {
		fields["user"] = inter.User.ID
	}
	logger.WithFields(fields).Info("interaction received")
}
