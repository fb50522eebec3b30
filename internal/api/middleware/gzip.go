package middleware

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/snowdamiz/pulsekit/internal/api/response"
)

// Decompress transparently inflates request bodies sent with
// Content-Encoding: gzip.
func Decompress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				response.CodeBadRequest, "Request body is not valid gzip", nil)
			return
		}
		defer zr.Close()

		r.Body = zr
		r.Header.Del("Content-Encoding")
		r.Header.Del("Content-Length")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}
