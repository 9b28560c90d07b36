package graph

import (
	"errors"
	"path"
)

const (
	ConfigsEdge     = "aem_conversion_configs"
	ConversionsEdge = "aem_conversions"
)

var ErrUnexpectedStatus = errors.New("unexpected graph response status")

// Request is one call against an app-scoped graph edge, e.g. "<app_id>/aem_conversions".
type Request struct {
	Path   string
	Method string
	Params map[string]any
}

// Edge is the last path segment, used as a metrics label.
func (r Request) Edge() string { return path.Base(r.Path) }
