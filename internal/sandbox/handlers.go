// internal/sandbox/handlers.go
package sandbox

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/ratelimit"
)

type registerRequest struct {
	Email              string `json:"email"`
	Password           string `json:"password"`
	Username           string `json:"username"`
	NameForCertificate string `json:"name_for_certificate"`
	Sex                string `json:"sex"`
	Role               string `json:"role"`
	Birthday           string `json:"birthday"`
	Remember           bool   `json:"remember"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type userResponse struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Register creates an account and opens a session for it.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		s.respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u := user{Email: req.Email, Password: req.Password, Username: req.Username}
	if !s.store.register(u) {
		s.respondError(w, http.StatusConflict, "User already exists")
		return
	}
	s.logger.Debug("sandbox user registered", zap.String("email", u.Email))
	s.startSession(w, u, http.StatusCreated)
}

// Login opens a session, subject to the per-account throttle.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	allowed, retryAfter := s.limiter.Allow(email)
	ratelimit.SetHeaders(w, s.limiter.Info(email))
	if !allowed {
		ratelimit.FormatRateLimitError(w, retryAfter)
		return
	}

	if !s.store.checkPassword(email, req.Password) {
		s.respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	u, _ := s.store.user(email)
	s.startSession(w, u, http.StatusOK)
}

func (s *Server) startSession(w http.ResponseWriter, u user, status int) {
	token, sess := s.store.openSession(u.Email)
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CSRFCookie,
		Value:    sess.CSRF,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(s.opts.CSRFHeader, sess.CSRF)
	s.respondJSON(w, status, map[string]any{
		"user": userResponse{Email: u.Email, Username: u.Username},
	})
}

// Me returns the session's user.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	u, ok := s.store.user(sess.Email)
	if !ok {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	s.respondJSON(w, http.StatusOK, userResponse{Email: u.Email, Username: u.Username})
}

// ListTrails returns the catalogue.
func (s *Server) ListTrails(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"trails": s.store.trails})
}

// Showcase returns the featured trails.
func (s *Server) Showcase(w http.ResponseWriter, r *http.Request) {
	featured := make([]Trail, 0, len(s.store.trails))
	for _, t := range s.store.trails {
		if t.Showcase {
			featured = append(featured, t)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"trails": featured})
}

// trailOr404 resolves {trailID} or writes a 404.
func (s *Server) trailOr404(w http.ResponseWriter, r *http.Request) (*Trail, bool) {
	t, ok := s.store.trail(chi.URLParam(r, "trailID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "trail not found")
	}
	return t, ok
}

// GetTrail returns one trail.
func (s *Server) GetTrail(w http.ResponseWriter, r *http.Request) {
	if t, ok := s.trailOr404(w, r); ok {
		s.respondJSON(w, http.StatusOK, t)
	}
}

type sectionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ItemCount int    `json:"item_count"`
}

// ListSections returns section headers without items.
func (s *Server) ListSections(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	out := make([]sectionSummary, 0, len(t.Sections))
	for _, sec := range t.Sections {
		out = append(out, sectionSummary{ID: sec.ID, Title: sec.Title, ItemCount: len(sec.Items)})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// ListSectionItems returns the items of one section.
func (s *Server) ListSectionItems(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	sec, ok := t.section(chi.URLParam(r, "sectionID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "section not found")
		return
	}
	s.respondJSON(w, http.StatusOK, withoutForms(sec.Items))
}

// SectionsWithItems returns every section with its items.
func (s *Server) SectionsWithItems(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	out := make([]Section, 0, len(t.Sections))
	for _, sec := range t.Sections {
		out = append(out, Section{ID: sec.ID, Title: sec.Title, Items: withoutForms(sec.Items)})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// IncludedItems returns a flat list of every item.
func (s *Server) IncludedItems(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	var items []Item
	for _, sec := range t.Sections {
		items = append(items, withoutForms(sec.Items)...)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// Requirements returns the trail prerequisites.
func (s *Server) Requirements(w http.ResponseWriter, r *http.Request) {
	if t, ok := s.trailOr404(w, r); ok {
		s.respondJSON(w, http.StatusOK, map[string]any{"requirements": t.Requirements})
	}
}

// Audience returns who the trail is for.
func (s *Server) Audience(w http.ResponseWriter, r *http.Request) {
	if t, ok := s.trailOr404(w, r); ok {
		s.respondJSON(w, http.StatusOK, map[string]any{"audience": t.Audience})
	}
}

// Learn returns the learning outcomes, derived from section titles.
func (s *Server) Learn(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	outcomes := make([]string, 0, len(t.Sections))
	for _, sec := range t.Sections {
		outcomes = append(outcomes, sec.Title)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"learn": outcomes})
}

// GetItem returns an item with its form.
func (s *Server) GetItem(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	it, ok := t.item(chi.URLParam(r, "itemID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	s.respondJSON(w, http.StatusOK, it)
}

func withoutForms(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.Form = nil
		out[i] = it
	}
	return out
}

// Enroll enrolls the session's user. Re-enrolling is not an error.
func (s *Server) Enroll(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	sess := sessionFrom(r)
	status := http.StatusOK
	if s.store.enroll(sess.Email, t.ID) {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, map[string]any{"trail_id": t.ID, "enrolled": true})
}

// enrolledTrail resolves {trailID} and checks the session is enrolled.
func (s *Server) enrolledTrail(w http.ResponseWriter, r *http.Request) (*Trail, session, bool) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return nil, session{}, false
	}
	sess := sessionFrom(r)
	if !s.store.enrolled(sess.Email, t.ID) {
		s.respondError(w, http.StatusNotFound, "not enrolled in trail")
		return nil, session{}, false
	}
	return t, sess, true
}

func (s *Server) completed(email string, t *Trail, items []Item) int {
	done := 0
	for _, it := range items {
		if p, ok := s.store.itemProgress(email, t.ID, it.ID); ok && p.Status == "COMPLETED" {
			done++
		}
	}
	return done
}

// TrailProgress returns the overall completion of the trail.
func (s *Server) TrailProgress(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.enrolledTrail(w, r)
	if !ok {
		return
	}
	total := t.itemCount()
	done := 0
	for _, sec := range t.Sections {
		done += s.completed(sess.Email, t, sec.Items)
	}
	percent := 0
	if total > 0 {
		percent = done * 100 / total
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"trail_id":        t.ID,
		"completed_items": done,
		"total_items":     total,
		"percent":         percent,
	})
}

// ItemsProgress returns the status of every item.
func (s *Server) ItemsProgress(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.enrolledTrail(w, r)
	if !ok {
		return
	}
	out := make([]map[string]any, 0, t.itemCount())
	for _, sec := range t.Sections {
		for _, it := range sec.Items {
			p, found := s.store.itemProgress(sess.Email, t.ID, it.ID)
			if !found {
				p = progressEntry{Status: "NOT_STARTED"}
			}
			out = append(out, map[string]any{
				"item_id":        it.ID,
				"status":         p.Status,
				"progress_value": p.ProgressValue,
			})
		}
	}
	s.respondJSON(w, http.StatusOK, out)
}

// SectionsProgress returns per-section completion counts.
func (s *Server) SectionsProgress(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.enrolledTrail(w, r)
	if !ok {
		return
	}
	out := make([]map[string]any, 0, len(t.Sections))
	for _, sec := range t.Sections {
		out = append(out, map[string]any{
			"section_id":      sec.ID,
			"completed_items": s.completed(sess.Email, t, sec.Items),
			"total_items":     len(sec.Items),
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

type progressRequest struct {
	Status        string `json:"status"`
	ProgressValue *int   `json:"progress_value"`
}

// UpdateItemProgress records progress on an item.
func (s *Server) UpdateItemProgress(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	it, ok := t.item(chi.URLParam(r, "itemID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "item not found")
		return
	}

	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.Status {
	case "NOT_STARTED", "IN_PROGRESS", "COMPLETED":
	default:
		s.respondError(w, http.StatusUnprocessableEntity, "invalid status")
		return
	}
	if req.ProgressValue == nil || *req.ProgressValue < 0 || *req.ProgressValue > 100 {
		s.respondError(w, http.StatusUnprocessableEntity, "progress_value must be between 0 and 100")
		return
	}

	entry := progressEntry{Status: req.Status, ProgressValue: *req.ProgressValue}
	s.store.setProgress(sessionFrom(r).Email, t.ID, it.ID, entry)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"item_id":        it.ID,
		"status":         entry.Status,
		"progress_value": entry.ProgressValue,
	})
}

type formSubmission struct {
	DurationSeconds int `json:"duration_seconds"`
	Answers         []struct {
		QuestionID       string  `json:"question_id"`
		SelectedOptionID *string `json:"selected_option_id"`
		AnswerText       *string `json:"answer_text"`
	} `json:"answers"`
}

// SubmitForm accepts answers for a FORM item. Every question must be
// answered, by option or by text.
func (s *Server) SubmitForm(w http.ResponseWriter, r *http.Request) {
	t, ok := s.trailOr404(w, r)
	if !ok {
		return
	}
	it, ok := t.item(chi.URLParam(r, "itemID"))
	if !ok || it.Form == nil {
		s.respondError(w, http.StatusNotFound, "form not found")
		return
	}

	var req formSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	answered := make(map[string]bool, len(req.Answers))
	for _, a := range req.Answers {
		if a.SelectedOptionID == nil && (a.AnswerText == nil || *a.AnswerText == "") {
			s.respondError(w, http.StatusUnprocessableEntity, "answer "+a.QuestionID+" is empty")
			return
		}
		answered[a.QuestionID] = true
	}
	for _, q := range it.Form.Questions {
		if !answered[q.ID] {
			s.respondError(w, http.StatusUnprocessableEntity, "question "+q.ID+" is unanswered")
			return
		}
	}

	s.store.addSubmission()
	s.respondJSON(w, http.StatusCreated, map[string]any{"item_id": it.ID, "accepted": true})
}
