package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/samber/mo"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/core/ticket"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

const headerRequestID = "X-Request-ID"

// ResolveTicketRequest は POST /resolve-ticket のリクエストボディ
type ResolveTicketRequest struct {
	Query   string            `json:"query"`
	Context []search.Metadata `json:"context,omitempty"`
	TopK    *int              `json:"top_k,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleResolveTicket(w http.ResponseWriter, r *http.Request) {
	req, err := decodeResolveRequest(w, r)
	if err != nil {
		s.writeError(w, apperror.Wrap(apperror.ErrInvalidInput, "invalid request body", err))
		return
	}

	svc, err := s.services.ResolveService()
	if err != nil {
		s.writeError(w, err)
		return
	}

	params := ticket.ResolveParams{
		Query:        req.Query,
		TopK:         mo.PointerToOption(req.TopK),
		ExtraContext: req.Context,
	}

	result, err := svc.Resolve(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set(headerRequestID, result.TicketID)
	writeJSON(w, http.StatusOK, result.Response)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := s.services.Status()
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func decodeResolveRequest(w http.ResponseWriter, r *http.Request) (*ResolveTicketRequest, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req ResolveTicketRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return &req, nil
}

// statusCode はエラー種別を HTTP ステータスに変換する
func statusCode(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperror.Kind(err) {
	case apperror.ErrInvalidInput:
		return http.StatusBadRequest
	case apperror.ErrNotReady, apperror.ErrDependencyInit:
		return http.StatusServiceUnavailable
	case apperror.ErrSchemaValidation, apperror.ErrGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "error", err)
	} else {
		s.logger.Warn("request rejected", "status", code, "error", err)
	}

	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
