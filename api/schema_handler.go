package api

import (
	"maps"
	"net/http"
	"slices"

	"github.com/invopop/jsonschema"

	"github.com/GoCodeAlone/mindcare/conversation"
	"github.com/GoCodeAlone/mindcare/session"
)

// SchemaHandler publishes JSON Schemas for the request and response bodies.
type SchemaHandler struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaHandler reflects every published type once.
func NewSchemaHandler() *SchemaHandler {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	return &SchemaHandler{schemas: map[string]*jsonschema.Schema{
		"start_request":    reflector.Reflect(&session.StartRequest{}),
		"start_response":   reflector.Reflect(&session.StartResponse{}),
		"respond_request":  reflector.Reflect(&session.RespondRequest{}),
		"respond_response": reflector.Reflect(&session.RespondResponse{}),
		"turn":             reflector.Reflect(&conversation.Turn{}),
		"restore_request":  reflector.Reflect(&RestoreRequest{}),
		"facial_request":   reflector.Reflect(&FacialRequest{}),
	}}
}

// Names lists the published schema names in order.
func (h *SchemaHandler) Names() []string {
	return slices.Sorted(maps.Keys(h.schemas))
}

// Get handles GET /schema/{name}.
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	schema, ok := h.schemas[r.PathValue("name")]
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown schema")
		return
	}
	WriteJSON(w, http.StatusOK, schema)
}

// List handles GET /schema.
func (h *SchemaHandler) List(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"schemas": h.Names()})
}
