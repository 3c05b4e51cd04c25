package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/incognito/internal/auth"
	"github.com/copyleftdev/incognito/internal/browser"
	"github.com/copyleftdev/incognito/internal/dom"
	"github.com/copyleftdev/incognito/internal/sessions"
)

type APIHandler struct {
	sessions *sessions.Manager
	logger   *zap.Logger
}

func NewAPIHandler(sm *sessions.Manager, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		sessions: sm,
		logger:   logger,
	}
}

// --- Contexts ---

func (h *APIHandler) HandleCreateContext(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Create(r.Context())
	if err != nil {
		if errors.Is(err, sessions.ErrShuttingDown) {
			h.respondError(w, http.StatusServiceUnavailable, "%s", err.Error())
			return
		}
		h.logger.Error("context creation failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to create context: %v", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"context_id": c.ID()})
}

func (h *APIHandler) HandleListContexts(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	for _, c := range h.sessions.List() {
		ids = append(ids, c.ID())
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"contexts": ids})
}

func (h *APIHandler) HandleGetContext(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	pages := []string{}
	for _, p := range c.Pages() {
		pages = append(pages, p.ID())
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"context_id": c.ID(),
		"pages":      pages,
	})
}

func (h *APIHandler) HandleCloseContext(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		// The context is gone either way; handler failures are reported, not
		// treated as a failed close.
		h.logger.Warn("context closed with failures", zap.String("context_id", c.ID()), zap.Error(err))
		h.respondJSON(w, http.StatusOK, map[string]string{"message": "context closed with failures", "detail": err.Error()})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "context closed"})
}

// --- Cookies ---

func (h *APIHandler) HandleGetCookies(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	cookies, err := c.Cookies(r.URL.Query()["url"]...)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	if cookies == nil {
		cookies = []*network.Cookie{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"cookies": cookies})
}

type addCookiesRequest struct {
	Cookies []*network.CookieParam `json:"cookies"`
}

func (h *APIHandler) HandleAddCookies(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req addCookiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if len(req.Cookies) == 0 {
		h.respondError(w, http.StatusBadRequest, "At least one cookie is required")
		return
	}
	if err := c.AddCookies(req.Cookies); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "cookies added"})
}

func (h *APIHandler) HandleClearCookies(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	if err := c.ClearCookies(); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "cookies cleared"})
}

// --- Pages ---

type openPageRequest struct {
	URL string `json:"url,omitempty"`
}

func (h *APIHandler) HandleOpenPage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req openPageRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
			return
		}
		defer r.Body.Close()
	}

	p, err := c.NewPage()
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	if req.URL != "" {
		if err := p.Navigate(req.URL); err != nil {
			h.respondOpError(w, err)
			return
		}
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"page_id": p.ID()})
}

func (h *APIHandler) HandleListPages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	ids := []string{}
	for _, p := range c.Pages() {
		ids = append(ids, p.ID())
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"pages": ids})
}

type waitForPageRequest struct {
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

func (h *APIHandler) HandleWaitForPage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req waitForPageRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
			return
		}
		defer r.Body.Close()
	}

	opts := &browser.WaitForPageOptions{}
	if req.TimeoutMs > 0 {
		d := time.Duration(req.TimeoutMs) * time.Millisecond
		opts.Timeout = &d
	}
	p, err := c.WaitForPage(opts)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"page_id": p.ID()})
}

type navigateRequest struct {
	URL string `json:"url"`
}

func (h *APIHandler) HandleNavigatePage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pageFromRequest(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "URL is required")
		return
	}
	if err := p.Navigate(req.URL); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "navigation complete"})
}

func (h *APIHandler) HandlePageContent(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pageFromRequest(w, r)
	if !ok {
		return
	}
	content, err := p.Content()
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "simplified" {
		content, err = dom.Simplify(content)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "Failed to simplify content: %v", err)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (h *APIHandler) HandleClosePage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pageFromRequest(w, r)
	if !ok {
		return
	}
	if err := p.Close(); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "page closed"})
}

// --- Routing ---

type routeRequest struct {
	PageID      string            `json:"page_id,omitempty"`
	Glob        string            `json:"glob,omitempty"`
	Regexp      string            `json:"regexp,omitempty"`
	Action      string            `json:"action,omitempty"`
	Status      int               `json:"status,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

func (req *routeRequest) matcher() (browser.Matcher, error) {
	switch {
	case req.Glob != "" && req.Regexp != "":
		return browser.Matcher{}, errors.New("glob and regexp are mutually exclusive")
	case req.Glob != "":
		return browser.MatchGlob(req.Glob), nil
	case req.Regexp != "":
		re, err := regexp.Compile(req.Regexp)
		if err != nil {
			return browser.Matcher{}, fmt.Errorf("invalid regexp: %w", err)
		}
		return browser.MatchRegexp(re), nil
	default:
		return browser.Matcher{}, errors.New("glob or regexp is required")
	}
}

// handler builds the declarative resolution for API-registered routes.
func (h *APIHandler) routeHandler(req routeRequest) (browser.RouteHandler, error) {
	var resolve func(rt *browser.Route) error
	switch req.Action {
	case "fulfill":
		resolve = func(rt *browser.Route) error {
			return rt.Fulfill(browser.Fulfillment{
				Status:      req.Status,
				ContentType: req.ContentType,
				Headers:     req.Headers,
				Body:        []byte(req.Body),
			})
		}
	case "abort":
		resolve = func(rt *browser.Route) error {
			return rt.Abort(req.Reason)
		}
	case "continue":
		resolve = func(rt *browser.Route) error {
			if len(req.Headers) > 0 {
				return rt.ContinueWith(browser.ContinueOverrides{Headers: req.Headers})
			}
			return rt.Continue()
		}
	default:
		return nil, fmt.Errorf("unknown action %q (want fulfill, abort or continue)", req.Action)
	}
	return func(rt *browser.Route) {
		if err := resolve(rt); err != nil {
			h.logger.Warn("route resolution failed", zap.String("url", rt.URL()), zap.Error(err))
		}
	}, nil
}

func (h *APIHandler) HandleAddRoute(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	m, err := req.matcher()
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "%s", err.Error())
		return
	}
	handler, err := h.routeHandler(req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "%s", err.Error())
		return
	}

	if req.PageID != "" {
		p, ok := h.pageByID(w, c, req.PageID)
		if !ok {
			return
		}
		err = p.Route(m, handler)
	} else {
		err = c.Route(m, handler)
	}
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"message": "route registered"})
}

func (h *APIHandler) HandleRemoveRoute(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	m, err := req.matcher()
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "%s", err.Error())
		return
	}

	if req.PageID != "" {
		p, ok := h.pageByID(w, c, req.PageID)
		if !ok {
			return
		}
		err = p.Unroute(m)
	} else {
		err = c.Unroute(m)
	}
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "routes removed"})
}

// --- Scripts and bindings ---

type initScriptRequest struct {
	Source string `json:"source"`
}

func (h *APIHandler) HandleAddInitScript(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req initScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if req.Source == "" {
		h.respondError(w, http.StatusBadRequest, "Script source is required")
		return
	}
	if err := c.AddInitScript(req.Source); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"message": "init script registered"})
}

type totpRequest struct {
	Name   string `json:"name,omitempty"`
	Secret string `json:"secret"`
}

// HandleExposeTOTP publishes a page-callable function that returns a fresh
// TOTP passcode for the enrolled secret, so login flows can fill 2FA prompts
// without the secret ever reaching page JavaScript.
func (h *APIHandler) HandleExposeTOTP(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req totpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if req.Secret == "" {
		h.respondError(w, http.StatusBadRequest, "TOTP secret is required")
		return
	}
	name := req.Name
	if name == "" {
		name = "generateTotp"
	}

	secret := req.Secret
	err := c.ExposeFunction(name, func([]json.RawMessage) (any, error) {
		return auth.GenerateTOTP(secret)
	})
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"message": "totp function exposed", "name": name})
}

// --- Permissions and emulation ---

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
	Origin      string   `json:"origin,omitempty"`
}

func (h *APIHandler) HandleGrantPermissions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req permissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if len(req.Permissions) == 0 {
		h.respondError(w, http.StatusBadRequest, "At least one permission is required")
		return
	}
	var opts *browser.GrantPermissionsOptions
	if req.Origin != "" {
		opts = &browser.GrantPermissionsOptions{Origin: req.Origin}
	}
	if err := c.GrantPermissions(req.Permissions, opts); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "permissions granted"})
}

func (h *APIHandler) HandleClearPermissions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	if err := c.ClearPermissions(); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "permissions cleared"})
}

func (h *APIHandler) HandleSetGeolocation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var loc browser.Geolocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if err := c.SetGeolocation(&loc); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "geolocation set"})
}

func (h *APIHandler) HandleClearGeolocation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	if err := c.SetGeolocation(nil); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "geolocation cleared"})
}

type offlineRequest struct {
	Offline bool `json:"offline"`
}

func (h *APIHandler) HandleSetOffline(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req offlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if err := c.SetOffline(req.Offline); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"message": "connectivity updated", "offline": req.Offline})
}

type headersRequest struct {
	Headers map[string]string `json:"headers"`
}

func (h *APIHandler) HandleSetExtraHeaders(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req headersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if len(req.Headers) == 0 {
		h.respondError(w, http.StatusBadRequest, "At least one header is required")
		return
	}
	if err := c.SetExtraHTTPHeaders(req.Headers); err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "headers set"})
}

type timeoutsRequest struct {
	DefaultMs    int64 `json:"default_ms,omitempty"`
	NavigationMs int64 `json:"navigation_ms,omitempty"`
}

func (h *APIHandler) HandleSetTimeouts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var req timeoutsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body: %v", err)
		return
	}
	defer r.Body.Close()

	if req.DefaultMs <= 0 && req.NavigationMs <= 0 {
		h.respondError(w, http.StatusBadRequest, "default_ms or navigation_ms is required")
		return
	}
	if req.DefaultMs > 0 {
		c.SetDefaultTimeout(time.Duration(req.DefaultMs) * time.Millisecond)
	}
	if req.NavigationMs > 0 {
		c.SetDefaultNavigationTimeout(time.Duration(req.NavigationMs) * time.Millisecond)
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "timeouts updated"})
}

// --- Storage ---

func (h *APIHandler) HandleStorageState(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return
	}
	var opts *browser.StorageStateOptions
	if path := r.URL.Query().Get("path"); path != "" {
		opts = &browser.StorageStateOptions{Path: path}
	}
	state, err := c.StorageState(opts)
	if err != nil {
		h.respondOpError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

// --- Helper Functions ---

func (h *APIHandler) contextFromRequest(w http.ResponseWriter, r *http.Request) (*browser.Context, bool) {
	idStr := chi.URLParam(r, "contextID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid context ID format: %v", err)
		return nil, false
	}
	c, err := h.sessions.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "Context not found")
		return nil, false
	}
	return c, true
}

func (h *APIHandler) pageFromRequest(w http.ResponseWriter, r *http.Request) (*browser.Page, bool) {
	c, ok := h.contextFromRequest(w, r)
	if !ok {
		return nil, false
	}
	return h.pageByID(w, c, chi.URLParam(r, "pageID"))
}

func (h *APIHandler) pageByID(w http.ResponseWriter, c *browser.Context, id string) (*browser.Page, bool) {
	for _, p := range c.Pages() {
		if p.ID() == id {
			return p, true
		}
	}
	h.respondError(w, http.StatusNotFound, "Page not found")
	return nil, false
}

// respondOpError maps binding errors onto HTTP statuses.
func (h *APIHandler) respondOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, browser.ErrContextClosed):
		h.respondError(w, http.StatusConflict, "%s", err.Error())
	case errors.Is(err, browser.ErrWaitTimeout):
		h.respondError(w, http.StatusRequestTimeout, "%s", err.Error())
	case errors.Is(err, browser.ErrWaitAborted):
		h.respondError(w, http.StatusConflict, "%s", err.Error())
	case errors.Is(err, sessions.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "%s", err.Error())
	default:
		h.logger.Error("operation failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "%s", err.Error())
	}
}

func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to marshal JSON response")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err = w.Write(response); err != nil {
		h.logger.Warn("failed to write JSON response", zap.Error(err))
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	errorMessage := fmt.Sprintf(format, args...)
	response := map[string]string{"error": errorMessage}
	jsonResponse, err := json.Marshal(response)
	// If marshalling fails, send plain text error
	contentType := "application/json; charset=utf-8"
	if err != nil {
		h.logger.Error("failed to marshal JSON error response", zap.Error(err))
		jsonResponse = []byte(fmt.Sprintf(`{"error":"%s"}`, errorMessage)) // Basic fallback
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, writeErr := w.Write(jsonResponse); writeErr != nil {
		h.logger.Warn("failed to write error response", zap.Error(writeErr))
	}
}
