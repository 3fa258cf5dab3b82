package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileshare_uploads_total",
		Help: "Upload attempts by outcome.",
	}, []string{"status"})

	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileshare_uploaded_bytes_total",
		Help: "Bytes committed by successful uploads.",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileshare_downloads_total",
		Help: "Download requests by outcome.",
	}, []string{"status"})

	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileshare_publishes_total",
		Help: "Publish requests by result.",
	}, []string{"result"})
)

// outcome turns a service error into a low-cardinality metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrStorage):
		return "failed"
	default:
		return "rejected"
	}
}
