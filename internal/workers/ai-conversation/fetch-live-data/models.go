package fetchlivedata

import (
	"context"
	"encoding/json"

	"blitz-workers/internal/models"
)

type Input struct {
	Plan   models.LiveDataPlan `json:"plan"`
	League models.League       `json:"league"`
}

type SourceStatus string

const (
	SourceOK      SourceStatus = "ok"
	SourceEmpty   SourceStatus = "empty"
	SourceFailed  SourceStatus = "failed"
	SourceSkipped SourceStatus = "skipped"
)

// Source reports what happened to one planned call.
type Source struct {
	Label    string       `json:"label"`
	Endpoint string       `json:"endpoint"`
	Status   SourceStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

type Output struct {
	// Results maps a citation label to the fetched payload. Failed and
	// skipped calls are omitted.
	Results map[string]interface{} `json:"results"`
	Sources []Source               `json:"sources"`
}

// HasData reports whether any result carries a non-empty payload.
func (o *Output) HasData() bool {
	if o == nil {
		return false
	}
	for _, v := range o.Results {
		if !isEmptyPayload(v) {
			return true
		}
	}
	return false
}

// Fetcher performs paced GETs against an API family.
type Fetcher interface {
	GetJSON(ctx context.Context, family, url string, headers map[string]string) (json.RawMessage, error)
}

func isEmptyPayload(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}
