// Package remotetest runs an in-memory task API for tests.
package remotetest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// Task is a task as stored by the fake server.
type Task struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Call is one request the server received.
type Call struct {
	Method string
	Path   string
	Body   Task
}

// FaultKind selects how a faulted request fails.
type FaultKind int

const (
	// FaultStatus answers with a status code without touching state.
	FaultStatus FaultKind = iota
	// FaultDisconnect drops the connection without a response.
	FaultDisconnect
	// FaultApplyThenStall applies the request, then holds the response until
	// the client gives up. The client sees a timeout for a change that did
	// happen.
	FaultApplyThenStall
)

type fault struct {
	method string
	kind   FaultKind
	status int
	left   int
}

// Options shape the server's responses.
type Options struct {
	// Token, when set, is required as a bearer token.
	Token string
	// Legacy answers with _id and the Spanish status labels.
	Legacy bool
	// Wrap answers creates as {"task": {...}} and lists as {"items": [...]}.
	Wrap bool
}

// Server is a fake task API served over httptest.
type Server struct {
	URL  string
	Echo *echo.Echo

	opts Options
	srv  *httptest.Server

	mu     sync.Mutex
	tasks  map[string]Task
	nextID int
	calls  []Call
	faults []*fault
}

// New starts a server that shuts down with the test.
func New(t testing.TB, opts Options) *Server {
	t.Helper()

	s := &Server{
		opts:  opts,
		tasks: make(map[string]Task),
		Echo:  echo.New(),
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.Use(s.record, s.auth, s.inject)
	s.Echo.GET("/tasks", s.list)
	s.Echo.POST("/tasks", s.create)
	s.Echo.PUT("/tasks/:id", s.update)
	s.Echo.DELETE("/tasks/:id", s.remove)

	s.srv = httptest.NewServer(s.Echo)
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)

	return s
}

// Close stops the listener. Later requests fail to connect.
func (s *Server) Close() {
	s.srv.Close()
}

// Seed stores tasks as if another client had created them.
func (s *Server) Seed(tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = s.newIDLocked()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		s.tasks[t.ID] = t
	}
}

// Fail makes the next n requests with method fail. Method "" matches any.
func (s *Server) Fail(method string, kind FaultKind, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{method: method, kind: kind, status: status, left: n})
}

// Tasks returns the stored tasks sorted by id.
func (s *Server) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Task returns one stored task.
func (s *Server) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Calls returns every request received, in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Count returns how many requests used method.
func (s *Server) Count(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and faults, keeping stored tasks.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.faults = nil
}

func (s *Server) newIDLocked() string {
	s.nextID++
	return "srv-" + strconv.Itoa(s.nextID)
}

func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		call := Call{Method: c.Request().Method, Path: c.Request().URL.Path}
		if c.Request().Method == http.MethodPost || c.Request().Method == http.MethodPut {
			var body Task
			if err := c.Bind(&body); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
			}
			c.Set("body", body)
			call.Body = body
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.Token == "" {
			return next(c)
		}
		if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer "+s.opts.Token {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return next(c)
	}
}

func (s *Server) inject(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := s.takeFault(c.Request().Method)
		if f == nil {
			return next(c)
		}

		switch f.kind {
		case FaultDisconnect:
			conn, _, err := c.Response().Hijack()
			if err != nil {
				return err
			}
			return conn.Close()
		case FaultApplyThenStall:
			c.Set("stall", true)
			if err := next(c); err != nil {
				return err
			}
			<-c.Request().Context().Done()
			return nil
		default:
			status := f.status
			if status == 0 {
				status = http.StatusServiceUnavailable
			}
			return c.JSON(status, map[string]string{"error": http.StatusText(status)})
		}
	}
}

func (s *Server) takeFault(method string) *fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.faults {
		if f.method != "" && f.method != method {
			continue
		}
		f.left--
		if f.left <= 0 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return f
	}
	return nil
}

// stallWriter swallows the response so a stalled request never completes
// before the client's deadline.
type stallWriter struct {
	http.ResponseWriter
}

func (stallWriter) Write(b []byte) (int, error) { return len(b), nil }
func (stallWriter) WriteHeader(int)             {}

func (s *Server) create(c echo.Context) error {
	body, _ := c.Get("body").(Task)
	if strings.TrimSpace(body.Title) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "title is required"})
	}

	s.mu.Lock()
	if existing, ok := s.byClientLocked(body.ClientID); ok {
		s.mu.Unlock()
		return s.writeCreated(c, http.StatusOK, existing)
	}
	now := time.Now()
	t := Task{
		ID:          s.newIDLocked(),
		ClientID:    body.ClientID,
		Title:       body.Title,
		Description: body.Description,
		Status:      canonical(body.Status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	s.mu.Unlock()

	return s.writeCreated(c, http.StatusCreated, t)
}

// byClientLocked finds a task created with clientID. Replayed creates
// return the existing task instead of a duplicate.
func (s *Server) byClientLocked(clientID string) (Task, bool) {
	if clientID == "" {
		return Task{}, false
	}
	for _, t := range s.tasks {
		if t.ClientID == clientID {
			return t, true
		}
	}
	return Task{}, false
}

func (s *Server) writeCreated(c echo.Context, code int, t Task) error {
	out := s.render(t)
	if s.opts.Wrap {
		return s.write(c, code, map[string]any{"task": out})
	}
	return s.write(c, code, out)
}

func (s *Server) update(c echo.Context) error {
	body, _ := c.Get("body").(Task)
	id := c.Param("id")

	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		t.Title = body.Title
		t.Description = body.Description
		t.Status = canonical(body.Status)
		t.UpdatedAt = time.Now()
		s.tasks[id] = t
	}
	s.mu.Unlock()

	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	return s.write(c, http.StatusOK, s.render(t))
}

func (s *Server) remove(c echo.Context) error {
	id := c.Param("id")

	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) list(c echo.Context) error {
	tasks := s.Tasks()
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.render(t))
	}
	if s.opts.Wrap {
		return s.write(c, http.StatusOK, map[string]any{"items": out})
	}
	return s.write(c, http.StatusOK, out)
}

func (s *Server) write(c echo.Context, code int, v any) error {
	if c.Get("stall") != nil {
		c.Response().Writer = stallWriter{c.Response().Writer}
	}
	return c.JSON(code, v)
}

func (s *Server) render(t Task) map[string]any {
	idKey, clientKey, status := "id", "clientId", t.Status
	if s.opts.Legacy {
		idKey, clientKey = "_id", "clienteId"
		status = legacyLabel(t.Status)
	}
	return map[string]any{
		idKey:         t.ID,
		clientKey:     t.ClientID,
		"title":       t.Title,
		"description": t.Description,
		"status":      status,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

func canonical(status string) string {
	switch strings.ToLower(strings.ReplaceAll(status, " ", "")) {
	case "enprogreso", "inprogress":
		return "InProgress"
	case "completada", "completed":
		return "Completed"
	default:
		return "Pending"
	}
}

func legacyLabel(status string) string {
	switch status {
	case "InProgress":
		return "En Progreso"
	case "Completed":
		return "Completada"
	default:
		return "Pendiente"
	}
}

// String describes the stored state for failure messages.
func (s *Server) String() string {
	var b strings.Builder
	for _, t := range s.Tasks() {
		fmt.Fprintf(&b, "%s %q %s\n", t.ID, t.Title, t.Status)
	}
	return b.String()
}
