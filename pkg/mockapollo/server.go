package mockapollo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Fault is a scripted response served instead of the real handler.
type Fault struct {
	// Status and Body are written as-is when Drop is false.
	Status int
	Body   string
	// Drop closes the connection without a response, simulating a transport failure.
	Drop bool
}

// Route names accepted by Inject.
const (
	RouteCreateLabel    = "POST /v1/labels"
	RouteListLabels     = "GET /v1/labels"
	RouteCreateContact  = "POST /v1/contacts"
	RouteSearchContacts = "POST /v1/contacts/search"
	RouteDeleteContact  = "DELETE /v1/contacts"
)

// Server implements a minimal directory-service API surface: labels and contacts.
type Server struct {
	mu    sync.Mutex
	calls []Call

	expectedAPIKey string

	labels   map[string]label // by id
	contacts map[string]map[string]any
	order    []string

	faults map[string][]Fault
}

type label struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Modality string `json:"modality"`
}

// New constructs a new, empty mock server.
func New() *Server {
	return &Server{
		labels:   make(map[string]label),
		contacts: make(map[string]map[string]any),
		faults:   make(map[string][]Fault),
	}
}

// RequireAPIKey enforces that requests carry a matching X-Api-Key header.
// If key is empty, authorization is not enforced.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedAPIKey = strings.TrimSpace(key)
}

// Inject queues faults for route; each matching request consumes one.
func (s *Server) Inject(route string, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], faults...)
}

// SeedLabel stores a contacts label with a fixed id.
func (s *Server) SeedLabel(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[id] = label{ID: id, Name: name, Modality: "contacts"}
}

// SeedContact stores a contact tagged with labelIDs and returns its id.
func (s *Server) SeedContact(fields map[string]any, labelIDs ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		c[k] = v
	}
	id, _ := c["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	c["id"] = id
	c["label_ids"] = slices.Clone(labelIDs)
	s.storeLocked(id, c)
	return id
}

// Enrich sets fields on the contact with the given email, simulating the service's
// asynchronous enrichment. It reports whether the contact exists.
func (s *Server) Enrich(email string, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.findByEmailLocked(email)
	if !ok {
		return false
	}
	for k, v := range fields {
		s.contacts[id][k] = v
	}
	return true
}

// Contacts returns a snapshot of stored contacts in creation order.
func (s *Server) Contacts() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneContact(s.contacts[id]))
	}
	return out
}

// Labels returns a snapshot of stored labels.
func (s *Server) Labels() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.labels))
	for id, l := range s.labels {
		out[id] = l.Name
	}
	return out
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountCalls returns how many recorded calls match method and path prefix.
func (s *Server) CountCalls(method, pathPrefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/labels", s.handleLabels)
	mux.HandleFunc("/v1/contacts", s.handleContacts)
	mux.HandleFunc("/v1/contacts/", s.handleContact)
	return mux
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAPIKey
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("X-Api-Key") != expected {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid access credentials."})
		return false
	}
	return true
}

// intercept serves a queued fault for route, if any, and reports whether it did.
func (s *Server) intercept(w http.ResponseWriter, route string) bool {
	s.mu.Lock()
	queue := s.faults[route]
	if len(queue) == 0 {
		s.mu.Unlock()
		return false
	}
	f := queue[0]
	s.faults[route] = queue[1:]
	s.mu.Unlock()

	if f.Drop {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijack unsupported", http.StatusInternalServerError)
			return true
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.Status)
	_, _ = w.Write([]byte(f.Body))
	return true
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request, route string) bool {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return false
	}
	return !s.intercept(w, route)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.begin(w, r, RouteCreateLabel) {
			return
		}
		s.handleCreateLabel(w, r)
	case http.MethodGet:
		if !s.begin(w, r, RouteListLabels) {
			return
		}
		s.handleListLabels(w, r)
	default:
		s.recordCall(r)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createLabelReq struct {
	Name     string `json:"name"`
	Modality string `json:"modality"`
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req createLabelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "name is required"})
		return
	}
	modality := req.Modality
	if modality == "" {
		modality = "contacts"
	}

	s.mu.Lock()
	for _, l := range s.labels {
		if l.Name == req.Name && l.Modality == modality {
			s.mu.Unlock()
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": fmt.Sprintf("A label named %q already exists", req.Name),
			})
			return
		}
	}
	l := label{ID: uuid.NewString(), Name: req.Name, Modality: modality}
	s.labels[l.ID] = l
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"label": l})
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	modality := r.URL.Query().Get("modality")
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("name")))

	s.mu.Lock()
	out := make([]label, 0, len(s.labels))
	for _, l := range s.labels {
		if modality != "" && l.Modality != modality {
			continue
		}
		// Loose filter: substring match, like the real search box.
		if name != "" && !strings.Contains(strings.ToLower(l.Name), name) {
			continue
		}
		out = append(out, l)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b label) int { return strings.Compare(a.Name, b.Name) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.recordCall(r)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.begin(w, r, RouteCreateContact) {
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	email, _ := req["email"].(string)
	if strings.TrimSpace(email) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "email is required"})
		return
	}
	dedupe, _ := req["run_dedupe"].(bool)

	s.mu.Lock()
	labelIDs := s.labelIDsForNamesLocked(req["label_names"])
	fields := make(map[string]any, len(req))
	for k, v := range req {
		switch k {
		case "label_names", "run_dedupe", "reveal_phone_number", "reveal_personal_emails":
			continue
		}
		fields[k] = v
	}

	id, exists := "", false
	if dedupe {
		id, exists = s.findByEmailLocked(email)
	}
	if exists {
		c := s.contacts[id]
		for k, v := range fields {
			c[k] = v
		}
		c["label_ids"] = mergeIDs(c["label_ids"], labelIDs)
	} else {
		id = uuid.NewString()
		fields["id"] = id
		fields["label_ids"] = labelIDs
		s.storeLocked(id, fields)
	}
	out := cloneContact(s.contacts[id])
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"contact": out})
}

type searchReq struct {
	LabelIDs []string `json:"contact_label_ids"`
	Page     int      `json:"page"`
	PerPage  int      `json:"per_page"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/contacts/")
	if rest == "search" {
		if r.Method != http.MethodPost {
			s.recordCall(r)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.begin(w, r, RouteSearchContacts) {
			return
		}
		s.handleSearch(w, r)
		return
	}

	if r.Method != http.MethodDelete || rest == "" || strings.Contains(rest, "/") {
		s.recordCall(r)
		http.NotFound(w, r)
		return
	}
	if !s.begin(w, r, RouteDeleteContact) {
		return
	}

	s.mu.Lock()
	_, ok := s.contacts[rest]
	if ok {
		delete(s.contacts, rest)
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == rest })
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "contact not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rest, "deleted": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = 25
	}
	if req.PerPage > 100 {
		req.PerPage = 100
	}

	s.mu.Lock()
	var matched []map[string]any
	for _, id := range s.order {
		c := s.contacts[id]
		if len(req.LabelIDs) > 0 && !hasAnyID(c["label_ids"], req.LabelIDs) {
			continue
		}
		matched = append(matched, cloneContact(c))
	}
	s.mu.Unlock()

	total := len(matched)
	totalPages := (total + req.PerPage - 1) / req.PerPage
	start := (req.Page - 1) * req.PerPage
	end := min(start+req.PerPage, total)
	page := []map[string]any{}
	if start < total {
		page = matched[start:end]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": page,
		"pagination": map[string]any{
			"page":          req.Page,
			"per_page":      req.PerPage,
			"total_entries": total,
			"total_pages":   totalPages,
		},
	})
}

func (s *Server) storeLocked(id string, c map[string]any) {
	if _, ok := s.contacts[id]; !ok {
		s.order = append(s.order, id)
	}
	s.contacts[id] = c
}

func (s *Server) findByEmailLocked(email string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(email))
	for _, id := range s.order {
		if e, _ := s.contacts[id]["email"].(string); strings.ToLower(strings.TrimSpace(e)) == want {
			return id, true
		}
	}
	return "", false
}

// labelIDsForNamesLocked resolves label names, creating missing labels like the real service.
func (s *Server) labelIDsForNamesLocked(raw any) []string {
	names, _ := raw.([]any)
	var ids []string
	for _, n := range names {
		name, _ := n.(string)
		if name == "" {
			continue
		}
		found := ""
		for _, l := range s.labels {
			if l.Name == name && l.Modality == "contacts" {
				found = l.ID
				break
			}
		}
		if found == "" {
			l := label{ID: uuid.NewString(), Name: name, Modality: "contacts"}
			s.labels[l.ID] = l
			found = l.ID
		}
		ids = append(ids, found)
	}
	return ids
}

func toIDs(raw any) []string {
	switch t := raw.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasAnyID(raw any, want []string) bool {
	for _, id := range toIDs(raw) {
		if slices.Contains(want, id) {
			return true
		}
	}
	return false
}

func mergeIDs(raw any, add []string) []string {
	out := slices.Clone(toIDs(raw))
	for _, id := range add {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func cloneContact(c map[string]any) map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		if ids, ok := v.([]string); ok {
			v = slices.Clone(ids)
		}
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
