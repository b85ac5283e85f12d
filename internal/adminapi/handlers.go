package adminapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/workflow"
)

const (
	defaultPaymentLimit = 50
	maxPaymentLimit     = 200
)

type errorBody struct {
	Error string `json:"error"`
}

type requestView struct {
	ID              int64           `json:"id"`
	OwnerID         int64           `json:"owner_id"`
	OwnerName       string          `json:"owner_name,omitempty"`
	Subject         string          `json:"subject"`
	Counterpart     string          `json:"counterpart"`
	Deadline        string          `json:"deadline"`
	Details         string          `json:"details,omitempty"`
	Attachment      *domain.FileRef `json:"attachment,omitempty"`
	Status          domain.Status   `json:"status"`
	StatusLabel     string          `json:"status_label"`
	Price           *string         `json:"price,omitempty"`
	Delivery        *string         `json:"delivery,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	PaymentRejected bool            `json:"payment_rejected"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func viewRequest(r domain.Request) requestView {
	return requestView{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		OwnerName:       r.OwnerName,
		Subject:         r.Subject,
		Counterpart:     r.Counterpart,
		Deadline:        r.Deadline,
		Details:         r.Details,
		Attachment:      r.Attachment,
		Status:          r.Status,
		StatusLabel:     r.Status.Label(),
		Price:           r.Price,
		Delivery:        r.Delivery,
		Notes:           r.Notes,
		PaymentRejected: r.PaymentRejected,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type paymentView struct {
	ID          int64                `json:"id"`
	RequestID   int64                `json:"request_id"`
	SubmitterID int64                `json:"submitter_id"`
	Evidence    domain.FileRef       `json:"evidence"`
	Status      domain.PaymentStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty"`
}

func viewPayments(ps []domain.Payment) []paymentView {
	out := make([]paymentView, 0, len(ps))
	for _, p := range ps {
		out = append(out, paymentView{
			ID:          p.ID,
			RequestID:   p.RequestID,
			SubmitterID: p.SubmitterID,
			Evidence:    p.Evidence,
			Status:      p.Status,
			CreatedAt:   p.CreatedAt,
			ResolvedAt:  p.ResolvedAt,
		})
	}
	return out
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	if err := s.reader.Ping(c.Request.Context()); err != nil {
		logger.Warn(c.Request.Context(), "api", "ready.fail", logger.Err(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// listRequests accepts ?status=new,offered; no filter means every status.
func (s *Server) listRequests(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	rs, err := s.reader.Queue(c.Request.Context(), statuses...)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]requestView, 0, len(rs))
	for _, r := range rs {
		out = append(out, viewRequest(r))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func parseStatuses(raw string) ([]domain.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.Statuses(), nil
	}
	var out []domain.Status
	for _, part := range strings.Split(raw, ",") {
		st, err := domain.ParseStatus(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Server) getRequest(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request id"})
		return
	}
	ctx := c.Request.Context()
	r, err := s.reader.Request(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ps, err := s.reader.PaymentsFor(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": viewRequest(r), "payments": viewPayments(ps)})
}

func (s *Server) listPayments(c *gin.Context) {
	limit := defaultPaymentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = min(n, maxPaymentLimit)
	}
	ps, err := s.reader.Payments(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": viewPayments(ps)})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.reader.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) fail(c *gin.Context, err error) {
	if workflow.KindOf(err) == workflow.KindNotFound {
		c.JSON(http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	logger.Error(c.Request.Context(), "api", "query.fail", logger.Err(err))
	c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}
