// Package middleware carries the HTTP instrumentation shared by the REST and
// socket endpoints.
package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// statusWriter records the status the wrapped handler sends. Hijacked
// upgrades never call WriteHeader, so Hijack stamps 101 itself.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LogRequests logs the method, path, status, and duration of every request
// that completes. Socket routes log their own lifecycle; here an upgrade
// shows up once, when the connection finally closes.
func LogRequests(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogSocketConnect logs an accepted console socket. Call it once the upgrade
// succeeds and the role is known.
func LogSocketConnect(logger *logrus.Logger, remoteAddr, path, role string) {
	logger.WithFields(logrus.Fields{
		"remote": remoteAddr,
		"path":   path,
		"role":   role,
	}).Info("socket connected")
}

// LogSocketDisconnect logs a console socket closing, with the error when the
// close was not clean.
func LogSocketDisconnect(logger *logrus.Logger, remoteAddr, path, role string, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"path":   path,
		"role":   role,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("socket disconnected")
}
