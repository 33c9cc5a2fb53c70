package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"price-testing/internal/assignment"
	"price-testing/internal/audience"
	"price-testing/internal/experiment"
	"price-testing/internal/metrics"
	"price-testing/internal/service"
	"price-testing/internal/storage"
	"price-testing/internal/version"
)

const visitorCookieMaxAge = 365 * 24 * 60 * 60

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get().Version})
}

type assignmentResponse struct {
	OK        bool        `json:"ok"`
	HasTest   bool        `json:"hasTest"`
	IsPreview bool        `json:"isPreview,omitempty"`
	TestID    string      `json:"testId,omitempty"`
	Variation string      `json:"variation,omitempty"`
	Price     json.Number `json:"price,omitempty"`
	IsControl bool        `json:"isControl"`
}

func (s *Server) assignment(c *gin.Context) {
	productID := strings.TrimSpace(c.Query("product_id"))
	variantID := strings.TrimSpace(c.Query("variant_id"))
	if productID == "" {
		abort(c, http.StatusBadRequest, "product_id is required")
		return
	}

	if c.Query("preview") == "true" {
		if raw := c.Query("test_price"); raw != "" {
			price, err := decimal.NewFromString(raw)
			if err != nil {
				abort(c, http.StatusBadRequest, "test_price must be a number")
				return
			}
			label := variantID
			if label == "" {
				label = "A"
			}
			metrics.RecordAssignment(metrics.OutcomePreview)
			c.JSON(http.StatusOK, assignmentResponse{
				OK:        true,
				HasTest:   true,
				IsPreview: true,
				Variation: label,
				Price:     json.Number(price.String()),
				IsControl: label == "A" || label == "control",
			})
			return
		}
	}

	visitorID := assignment.VisitorID(c.Request)
	s.ensureVisitorCookie(c, visitorID)

	referrer := c.Query("referrer")
	if referrer == "" {
		referrer = c.Request.Referer()
	}
	rc := audience.RequestContext{
		UserAgent: c.Request.UserAgent(),
		Referrer:  referrer,
		Query:     c.Request.URL.RawQuery,
	}
	ctx := c.Request.Context()
	country := func() string {
		return s.geo.Country(ctx, c.Request, assignment.ClientIP(c.Request))
	}

	res, err := s.backend.AssignVisitor(ctx, productID, visitorID, rc, country)
	if err == nil && !res.HasTest && variantID != "" && variantID != productID {
		res, err = s.backend.AssignVisitor(ctx, variantID, visitorID, rc, country)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("product_id", productID).Msg("assignment failed")
		abort(c, http.StatusInternalServerError, "assignment unavailable")
		return
	}
	if !res.HasTest {
		c.JSON(http.StatusOK, assignmentResponse{OK: true})
		return
	}

	c.JSON(http.StatusOK, assignmentResponse{
		OK:        true,
		HasTest:   true,
		TestID:    res.TestID,
		Variation: res.Variation,
		Price:     json.Number(res.Price.String()),
		IsControl: res.IsControl,
	})
}

// ensureVisitorCookie persists a fallback id so later requests from the same
// browser bucket identically even if the IP changes.
func (s *Server) ensureVisitorCookie(c *gin.Context, visitorID string) {
	for _, name := range []string{assignment.LegacyVisitorCookie, assignment.VisitorCookie} {
		if v, err := c.Cookie(name); err == nil && v != "" {
			return
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(assignment.VisitorCookie, visitorID, visitorCookieMaxAge, "/", "", s.opts.CookieSecure, false)
}

type eventRequest struct {
	Type    string        `json:"type" validate:"required,oneof=page_view add_to_cart purchase"`
	Payload *eventPayload `json:"payload" validate:"required"`
}

type eventPayload struct {
	TestID       string     `json:"testId" validate:"required,max=128"`
	Variation    string     `json:"variation" validate:"required,max=64"`
	ProductID    string     `json:"productId" validate:"max=128"`
	VariantID    string     `json:"variantId" validate:"max=128"`
	Qty          *int       `json:"qty" validate:"omitempty,gte=0"`
	RevenueCents *int64     `json:"revenueCents" validate:"omitempty,gte=0"`
	Path         string     `json:"path" validate:"max=2048"`
	TS           *time.Time `json:"ts"`
	VisitorID    string     `json:"visitorId" validate:"max=128"`
	SessionID    string     `json:"sessionId" validate:"max=128"`
	Referrer     string     `json:"referrer" validate:"max=2048"`
	UserAgent    string     `json:"userAgent" validate:"max=1024"`
}

func (s *Server) recordEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RecordEvent("unknown", "invalid")
		abort(c, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		metrics.RecordEvent(req.Type, "invalid")
		abort(c, http.StatusBadRequest, "invalid payload: "+describeValidation(err))
		return
	}

	p := req.Payload
	event := experiment.Event{
		Type:         experiment.EventType(req.Type),
		TestID:       p.TestID,
		Variation:    p.Variation,
		RevenueCents: p.RevenueCents,
		VisitorID:    p.VisitorID,
		SessionID:    p.SessionID,
		Path:         p.Path,
		ProductID:    p.ProductID,
		VariantID:    p.VariantID,
		Qty:          p.Qty,
		Referrer:     p.Referrer,
		UserAgent:    p.UserAgent,
	}
	if p.TS != nil {
		event.TS = p.TS.UTC()
	}
	if event.VisitorID == "" {
		event.VisitorID = assignment.VisitorID(c.Request)
	}
	if event.UserAgent == "" {
		event.UserAgent = c.Request.UserAgent()
	}

	if _, err := s.backend.RecordEvent(c.Request.Context(), event); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, service.ErrUnknownVariation), errors.Is(err, service.ErrTestNotRunning):
			metrics.RecordEvent(req.Type, "rejected")
			abort(c, http.StatusUnprocessableEntity, "event rejected")
		default:
			metrics.RecordEvent(req.Type, "failed")
			s.logger.Error().Err(err).Str("test_id", event.TestID).Msg("failed to store event")
			abort(c, http.StatusInternalServerError, "failed to store event")
		}
		return
	}
	metrics.RecordEvent(req.Type, "stored")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

type createTestRequest struct {
	Name              string                        `json:"name" validate:"required,max=200"`
	ProductID         string                        `json:"productId" validate:"required,max=128"`
	Variations        []experiment.Variation        `json:"variations" validate:"min=2,dive"`
	TrafficSplit      []float64                     `json:"trafficSplit" validate:"required,dive,gte=0,lte=100"`
	Targeting         experiment.Targeting          `json:"targeting"`
	SelectedGoal      string                        `json:"selectedGoal" validate:"omitempty,oneof=revenue_per_visitor conversion_rate average_order_value add_to_cart_rate"`
	Automation        experiment.AutomationSettings `json:"automationSettings"`
	Duration          int                           `json:"duration" validate:"gte=0"`
	DurationUnit      string                        `json:"durationUnit" validate:"omitempty,oneof=days weeks"`
	StoppedVariations []string                      `json:"stoppedVariations"`
}

func (s *Server) createTest(c *gin.Context) {
	var req createTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid test definition")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		abort(c, http.StatusBadRequest, "invalid test definition: "+describeValidation(err))
		return
	}

	goal := experiment.Goal(req.SelectedGoal)
	if goal == "" {
		goal = experiment.GoalRevenuePerVisitor
	}
	test := experiment.Test{
		Name:              req.Name,
		ProductID:         req.ProductID,
		Variations:        req.Variations,
		TrafficSplit:      req.TrafficSplit,
		Targeting:         req.Targeting,
		SelectedGoal:      goal,
		StoppedVariations: req.StoppedVariations,
		Automation:        req.Automation,
		Duration:          req.Duration,
		DurationUnit:      experiment.DurationUnit(req.DurationUnit),
	}

	created, err := s.backend.CreateTest(c.Request.Context(), test)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "test": created})
}

func (s *Server) analytics(c *gin.Context) {
	rangeKey := c.DefaultQuery("range", s.opts.DefaultRange)
	report, err := s.backend.Analytics(c.Request.Context(), c.Param("id"), rangeKey)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) runAutomation(c *gin.Context) {
	out, err := s.backend.RunAutomation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"executed": out.Executed(),
		"failed":   out.Failed(),
		"results":  out.Results,
		"logs":     out.Logs,
		"test":     out.Test,
	})
}

func (s *Server) automationLogs(c *gin.Context) {
	logs, err := s.backend.AutomationLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "logs": logs, "count": len(logs)})
}

func (s *Server) transition(to experiment.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		test, err := s.backend.Transition(c.Request.Context(), c.Param("id"), to)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "test": test})
	}
}

// writeError maps domain errors onto status codes for the admin API.
func (s *Server) writeError(c *gin.Context, err error) {
	var cfgErr *experiment.ConfigurationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		abort(c, http.StatusNotFound, "test not found")
	case errors.As(err, &cfgErr):
		abort(c, http.StatusBadRequest, cfgErr.Error())
	case errors.Is(err, experiment.ErrInvalidTransition):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBusy), errors.Is(err, storage.ErrConflict):
		abort(c, http.StatusConflict, "test is busy, retry later")
	case errors.Is(err, storage.ErrNotConfigured), errors.Is(err, context.DeadlineExceeded):
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		abort(c, http.StatusServiceUnavailable, "service unavailable")
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		abort(c, http.StatusInternalServerError, "internal error")
	}
}
