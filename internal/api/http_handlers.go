package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resortwala/internal/domain"
	"resortwala/internal/export"
	"resortwala/internal/models"
	"resortwala/internal/service"
)

const (
	defaultCalendarDays = 30
	readinessTimeout    = 2 * time.Second
	callbackFailLimit   = 20
	callbackFailWindow  = time.Minute
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.svc.Readiness))
	ready := true
	for name, check := range s.svc.Readiness {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	statusCode := http.StatusOK
	state := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, statusCode, map[string]any{"status": state, "checks": checks})
}

func (s *HTTPServer) handleProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := s.svc.Properties.GetActiveProperties(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	dates, err := service.ParseRange(strings.TrimSpace(q.Get("check_in")), strings.TrimSpace(q.Get("check_out")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.svc.Calendar.CheckAvailability(r.Context(), propertyID, dates)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type calendarDay struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from := strings.TrimSpace(q.Get("from"))
	if from == "" {
		from = s.svc.Calendar.Today().Format(models.DateLayout)
	}
	to := strings.TrimSpace(q.Get("to"))
	if to == "" {
		start, err := time.Parse(models.DateLayout, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
			return
		}
		to = start.AddDate(0, 0, defaultCalendarDays).Format(models.DateLayout)
	}

	dates, err := service.ParseRange(from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	days, err := s.svc.Calendar.GetCalendar(r.Context(), propertyID, dates)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]calendarDay, 0, len(days))
	for _, d := range days {
		out = append(out, calendarDay{Date: d.Date.Format(models.DateLayout), Available: d.Available, Reason: d.Reason})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"property_id": propertyID,
		"from":        from,
		"to":          to,
		"days":        out,
	})
}

type freezeRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (s *HTTPServer) decodeFreeze(w http.ResponseWriter, r *http.Request) (int64, models.DateRange, bool) {
	propertyID, ok := pathID(w, r)
	if !ok {
		return 0, models.DateRange{}, false
	}
	var body freezeRequest
	if !decodeJSON(w, r, &body) {
		return 0, models.DateRange{}, false
	}
	dates, err := service.ParseRange(strings.TrimSpace(body.StartDate), strings.TrimSpace(body.EndDate))
	if err != nil {
		s.writeServiceError(w, r, err)
		return 0, models.DateRange{}, false
	}
	return propertyID, dates, true
}

func (s *HTTPServer) handleFreeze(w http.ResponseWriter, r *http.Request) {
	propertyID, dates, ok := s.decodeFreeze(w, r)
	if !ok {
		return
	}
	if err := s.svc.Calendar.Freeze(r.Context(), propertyID, dates, changedBy(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"property_id": propertyID,
		"frozen":      len(dates.Days()),
	})
}

func (s *HTTPServer) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	propertyID, dates, ok := s.decodeFreeze(w, r)
	if !ok {
		return
	}
	n, err := s.svc.Calendar.Unfreeze(r.Context(), propertyID, dates, changedBy(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"property_id": propertyID,
		"released":    n,
	})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	booking, err := s.svc.Bookings.CreateBooking(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleSearchBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := bookingFilterFromQuery(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	bookings, err := s.svc.Bookings.SearchBookings(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func bookingFilterFromQuery(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	var (
		filter models.BookingFilter
		errs   domain.ValidationErrors
	)

	parseInt := func(name string) int64 {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return 0
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			errs = append(errs, domain.ValidationError{Field: name, Message: "must be a non-negative integer"})
			return 0
		}
		return v
	}
	parseDate := func(name string) time.Time {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return time.Time{}
		}
		t, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			errs = append(errs, domain.ValidationError{Field: name, Message: "expected YYYY-MM-DD"})
		}
		return t
	}

	filter.PropertyID = parseInt("property_id")
	filter.CustomerID = parseInt("customer_id")
	filter.Limit = int(parseInt("limit"))
	filter.From = parseDate("from")
	filter.To = parseDate("to")

	if st := strings.TrimSpace(q.Get("status")); st != "" {
		if !models.IsValidStatus(st) {
			errs = append(errs, domain.ValidationError{Field: "status", Message: "unknown booking status"})
		}
		filter.Status = st
	}

	if len(errs) > 0 {
		return models.BookingFilter{}, errs
	}
	return filter, nil
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.svc.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type transitionFunc func(ctx context.Context, bookingID int64, changedBy string) (*models.Booking, error)

func (s *HTTPServer) transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		booking, err := fn(r.Context(), id, changedBy(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
	}
}

func (s *HTTPServer) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := s.svc.Payments.InitiatePayment(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payments, err := s.svc.Payments.GetPayments(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.PaymentTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (s *HTTPServer) handleAddReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	review, err := s.svc.Bookings.AddReview(r.Context(), id, &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// handlePhonePeCallback accepts the gateway server callback either as JSON
// {"response": "<base64>"} or as a form field. Only the X-VERIFY checksum
// authenticates it. Verified callbacks are never throttled; a host that keeps
// sending malformed or badly signed callbacks gets 429.
func (s *HTTPServer) handlePhonePeCallback(w http.ResponseWriter, r *http.Request) {
	response, err := callbackPayload(r)
	if err != nil {
		if s.callbackFailuresExceeded(r) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.svc.Payments.HandleCallback(r.Context(), response, strings.TrimSpace(r.Header.Get("X-VERIFY")))
	if err != nil {
		if errors.Is(err, domain.ErrSignature) && s.callbackFailuresExceeded(r) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// callbackFailuresExceeded counts one rejected callback for the remote host.
func (s *HTTPServer) callbackFailuresExceeded(r *http.Request) bool {
	if s.svc.Guard == nil {
		return false
	}
	allowed, err := s.svc.Guard.CheckRateLimit(r.Context(), "phonepe_callback_fail:"+remoteHost(r), callbackFailLimit, callbackFailWindow)
	if err != nil {
		s.log.Warn().Err(err).Msg("callback rate limit check failed")
		return false
	}
	return !allowed
}

func callbackPayload(r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var response string
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("invalid form body")
		}
		response = r.PostForm.Get("response")
	default:
		var body struct {
			Response string `json:"response"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("invalid JSON body")
		}
		response = body.Response
	}

	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("response is required")
	}
	return response, nil
}

func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dates, err := service.ParseRange(strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.svc.Exporter.Write(r.Context(), &buf, dates.Start, dates.End); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(dates.Start, dates.End)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

func (s *HTTPServer) handleCalendarStream(w http.ResponseWriter, r *http.Request) {
	if s.svc.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime updates are disabled")
		return
	}
	s.svc.Hub.ServeWS(w, r)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
