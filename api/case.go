package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/handlers"
	"example.com/backstage/services/changeorder/utils"
)

// CreateCaseRequest is the request to open a case. A missing case id is
// generated.
type CreateCaseRequest struct {
	CaseID string `json:"case_id" binding:"omitempty,case_id"`
	handlers.CreateCaseCommand
}

// CommandRequest is the request to run a command on a case
type CommandRequest struct {
	ExpectedVersion *int            `json:"expected_version" binding:"required,gte=0"`
	Payload         json.RawMessage `json:"payload"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error           string             `json:"error"`
	Message         string             `json:"message,omitempty"`
	CaseID          string             `json:"case_id,omitempty"`
	Fields          []utils.FieldError `json:"fields,omitempty"`
	ExpectedVersion *int               `json:"expected_version,omitempty"`
	CurrentVersion  *int               `json:"current_version,omitempty"`
}

// writeError maps domain errors onto HTTP responses
func writeError(c *gin.Context, err error) {
	var (
		conflict   *domain.ConcurrencyError
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		corruption *domain.CorruptionError
	)

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:           "VERSION_CONFLICT",
			Message:         "reload the case and retry",
			CaseID:          conflict.CaseID,
			ExpectedVersion: &conflict.Expected,
			CurrentVersion:  &conflict.Actual,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "VALIDATION_FAILED",
			Fields: validation.Fields,
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:  "NOT_FOUND",
			CaseID: notFound.CaseID,
		})
	case errors.As(err, &corruption):
		log.Error().Err(err).Str("caseID", corruption.CaseID).Int("position", corruption.Position).Msg("Corrupt case log")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  "CORRUPT_CASE",
			CaseID: corruption.CaseID,
		})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL"})
	}
}

func caseIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !utils.IsValidCaseID(id) {
		writeError(c, domain.NewValidationError("case_id", "case_id", "is not a valid case id"))
		return "", false
	}
	return id, true
}

// listCases returns case summaries, optionally filtered by status and project
func (s *Server) listCases(c *gin.Context) {
	filter := handlers.Filter{
		Status:    domain.CaseStatus(c.Query("status")),
		ProjectID: c.Query("project_id"),
	}

	cases, err := s.caseHandler.ListCases(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

// createCase opens a new case
func (s *Server) createCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	if req.CaseID == "" {
		req.CaseID = uuid.New().String()
	}

	result, err := s.caseHandler.CreateCase(requestContext(c), req.CaseID, req.CreateCaseCommand)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// getCase returns the projected state of a case
func (s *Server) getCase(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}

	state, err := s.caseHandler.GetState(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// getHistory returns the ordered event log of a case
func (s *Server) getHistory(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}

	events, err := s.caseHandler.GetHistory(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"case_id": id, "version": len(events), "events": events})
}

// submitCommand runs a named command against a case
func (s *Server) submitCommand(c *gin.Context) {
	id, ok := caseIDParam(c)
	if !ok {
		return
	}

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	cmd, err := handlers.DecodeCommand(c.Param("command"), req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := s.caseHandler.SubmitCommand(requestContext(c), id, cmd, *req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// bindError turns a gin binding failure into a field-level validation error
func bindError(err error) error {
	if fields := utils.FieldErrors(err); len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return domain.NewValidationError("body", "json", err.Error())
}
