// Package remote talks to the shared catalog endpoint: a JSON document of
// products read with GET and replaced wholesale with POST.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/alburaq/catalogsync/internal/catalog"
)

var (
	ErrConflict         = errors.New("catalog version conflict")
	ErrMalformedPayload = errors.New("malformed catalog payload")
)

type ConflictError struct {
	ETag string
}

func (e *ConflictError) Error() string {
	if e.ETag == "" {
		return "catalog version conflict"
	}
	return fmt.Sprintf("catalog version conflict, current version %s", e.ETag)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Document is the remote catalog. Version is the document format version;
// ETag identifies the stored revision when the endpoint reports one.
type Document struct {
	Products    []catalog.Product
	LastUpdated *time.Time
	Version     string
	ETag        string
}

type Result struct {
	Success  bool
	Message  string
	Document *Document
}

type Client interface {
	// Fetch reports false on any transport, status or payload failure.
	Fetch(ctx context.Context) (Document, bool)
	Push(ctx context.Context, products []catalog.Product) Result
}

// ConditionalPusher writes only when the stored revision still matches etag.
type ConditionalPusher interface {
	PushIfMatch(ctx context.Context, products []catalog.Product, etag string) Result
}

type wireDocument struct {
	Products    *[]catalog.Product `json:"products"`
	LastUpdated any                `json:"lastUpdated"`
	Version     string             `json:"version"`
}

func (w wireDocument) document() (Document, error) {
	if w.Products == nil {
		return Document{}, fmt.Errorf("%w: missing products", ErrMalformedPayload)
	}
	products := make([]catalog.Product, 0, len(*w.Products))
	for _, p := range *w.Products {
		products = append(products, catalog.Normalize(p))
	}
	return Document{
		Products:    products,
		LastUpdated: parseLastUpdated(w.LastUpdated),
		Version:     w.Version,
	}, nil
}

// parseLastUpdated accepts ISO strings in any common layout and epoch
// milliseconds. Unparseable values are dropped.
func parseLastUpdated(raw any) *time.Time {
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts := time.UnixMilli(ms).UTC()
			return &ts
		}
		ts, err := dateparse.ParseAny(v)
		if err != nil {
			return nil
		}
		ts = ts.UTC()
		return &ts
	case float64:
		ts := time.UnixMilli(int64(v)).UTC()
		return &ts
	}
	return nil
}
