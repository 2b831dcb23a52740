package api

import (
	"net/http"

	"github.com/sociosbot/sociosbot/internal/pipeline"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", pipeline.MessageDatabaseMissing, true, nil)
		return
	}
	tables, err := deps.Schema.Tables(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	description, err := deps.Schema.SchemaDescription(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to describe schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tables": tables,
		"schema": description,
	})
}
