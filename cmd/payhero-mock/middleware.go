package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"

	"activation-relay/internal/payload"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

var (
	mu             sync.Mutex
	seenReferences = make(map[string]bool)
	duplicateRefs  = make(map[string]bool)
	endpointCounts = make(map[string]int)
)

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Request Headers: %v", r.Header)

		var requestBody bytes.Buffer
		tee := io.TeeReader(r.Body, &requestBody)
		body, err := io.ReadAll(tee)
		if err != nil {
			log.Printf("Error reading request body: %v", err)
		}
		r.Body = io.NopCloser(&requestBody)
		log.Printf("Request Body: %s", body)

		// a reused external_reference means the caller retried an initiation
		var push payload.STKPush
		if err := json.Unmarshal(body, &push); err == nil && push.ExternalReference != "" {
			mu.Lock()
			if seenReferences[push.ExternalReference] {
				duplicateRefs[push.ExternalReference] = true
				log.Printf("Duplicate external_reference: %s", push.ExternalReference)
			} else {
				seenReferences[push.ExternalReference] = true
			}
			mu.Unlock()
		}

		lrw := &loggingResponseWriter{ResponseWriter: w, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		log.Printf("Response Headers: %v", w.Header())
		log.Printf("Response Body: %s", lrw.body.String())
	})
}

func countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		endpointCounts[r.URL.Path]++
		count := endpointCounts[r.URL.Path]
		mu.Unlock()

		log.Printf("Endpoint %s has been called %d times", r.URL.Path, count)
		next.ServeHTTP(w, r)
	})
}
