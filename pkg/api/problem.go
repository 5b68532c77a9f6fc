// Package api is the thin HTTP surface of the engine: the risk-score
// contract, the SSE event feed and the phase-advance endpoint. The full
// routing layer of the product lives outside this repository.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// Every error response uses this shape.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Fields lists the offending fields on validation errors.
	Fields []string `json:"fields,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteProblem writes an RFC 7807 response.
func WriteProblem(w http.ResponseWriter, problem *ProblemDetail) {
	if problem.Type == "" {
		problem.Type = fmt.Sprintf("https://defensor.tributo.mx/errors/%d", problem.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, &ProblemDetail{Title: "Bad Request", Status: http.StatusBadRequest, Detail: detail})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, &ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: detail})
}

// WriteUnprocessable writes a 422 with the offending field list.
func WriteUnprocessable(w http.ResponseWriter, detail string, fields []string) {
	WriteProblem(w, &ProblemDetail{
		Title:  "Unprocessable Entity",
		Status: http.StatusUnprocessableEntity,
		Detail: detail,
		Fields: fields,
	})
}

// WriteUnavailable writes a 503 for storage or upstream failures.
func WriteUnavailable(w http.ResponseWriter, detail string) {
	WriteProblem(w, &ProblemDetail{Title: "Service Unavailable", Status: http.StatusServiceUnavailable, Detail: detail})
}

// WriteGatewayTimeout writes a 504 error response.
func WriteGatewayTimeout(w http.ResponseWriter, detail string) {
	WriteProblem(w, &ProblemDetail{Title: "Gateway Timeout", Status: http.StatusGatewayTimeout, Detail: detail})
}

// WriteInternal writes a 500. The wrapped error is logged, never
// exposed.
func WriteInternal(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal server error", slog.Any("error", err))
	WriteProblem(w, &ProblemDetail{
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Detail: "An unexpected error occurred. Please try again later.",
	})
}

// writeJSON writes a success payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
