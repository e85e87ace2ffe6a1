package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/qr"
)

// Handler exposes checkout session and order status endpoints.
type Handler struct {
	sessions      *Store
	catalog       *catalog.Service
	orders        OrderGateway
	qr            qr.Renderer
	hub           *Hub
	upgrader      websocket.Upgrader
	submitTimeout time.Duration
	baseURL       string
	logger        zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Sessions       *Store
	Catalog        *catalog.Service
	Orders         OrderGateway
	QR             qr.Renderer
	Hub            *Hub
	AllowedOrigins []string
	SubmitTimeout  time.Duration
	// PublicBaseURL prefixes the Location of new sessions, e.g.
	// https://shop.example. Empty keeps the Location relative.
	PublicBaseURL  string
	Logger         zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Handler{
		sessions:      cfg.Sessions,
		catalog:       cfg.Catalog,
		orders:        cfg.Orders,
		qr:            cfg.QR,
		hub:           cfg.Hub,
		upgrader:      websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)},
		submitTimeout: timeout,
		baseURL:       strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        cfg.Logger.With().Str("component", "storefront.handler").Logger(),
	}
}

// Routes mounts the storefront endpoints. submit wraps the submit action
// only, e.g. with idempotency and rate limiting.
func (h *Handler) Routes(r chi.Router, submit ...func(http.Handler) http.Handler) {
	r.Route("/checkout/sessions", func(s chi.Router) {
		s.Post("/", h.OpenSession)
		s.Route("/{sessionID}", func(one chi.Router) {
			one.Get("/", h.GetSession)
			one.Delete("/", h.CloseSession)
			one.With(submit...).Post("/submit", h.Submit)
			one.Post("/retry", h.Retry)
			one.Post("/done", h.Done)
			one.Post("/reset", h.Reset)
			one.Get("/qr.png", h.QRCode)
			one.Get("/events", h.Events)
		})
	})
	r.Get("/orders/{merchantOrderId}", h.Order)
	r.Get("/orders/{merchantOrderId}/gateway-status", h.GatewayStatus)
}

type sessionView struct {
	SessionID string            `json:"sessionId"`
	Product   catalog.Listing   `json:"product"`
	Polling   bool              `json:"polling"`
	Snapshot  checkout.Snapshot `json:"snapshot"`
}

func viewOf(sess *Session, snap checkout.Snapshot) sessionView {
	return sessionView{
		SessionID: sess.ID,
		Product:   sess.Product.Listing(),
		Polling:   sess.Machine.Polling(),
		Snapshot:  snap,
	}
}

// OpenSession handles POST /api/v1/checkout/sessions.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID int `json:"productId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	product, err := h.catalog.Get(body.ProductID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	sess := h.sessions.Open(product)
	w.Header().Set("Location", h.baseURL+"/api/v1/checkout/sessions/"+sess.ID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": viewOf(sess, sess.Machine.State())})
}

// GetSession handles GET /api/v1/checkout/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(sess, sess.Machine.State())})
}

// CloseSession handles DELETE /api/v1/checkout/sessions/{sessionID}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(chi.URLParam(r, "sessionID")) {
		common.WriteError(w, ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /api/v1/checkout/sessions/{sessionID}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var input checkout.CustomerInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	// A created order must not be abandoned because the client went away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.submitTimeout)
	defer cancel()

	snap, err := sess.Machine.Submit(ctx, sess.Product, input)
	if err != nil {
		if common.IsAppError(err) {
			h.logger.Info().Str("session_id", sess.ID).Str("code", common.ErrorCode(err)).Msg("submit_failed")
		}
		writeMachineError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(sess, snap)})
}

// Retry handles POST /api/v1/checkout/sessions/{sessionID}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, (*checkout.Machine).Retry)
}

// Done handles POST /api/v1/checkout/sessions/{sessionID}/done.
func (h *Handler) Done(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, (*checkout.Machine).Done)
}

// Reset handles POST /api/v1/checkout/sessions/{sessionID}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, (*checkout.Machine).Reset)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, fn func(*checkout.Machine) (checkout.Snapshot, error)) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := fn(sess.Machine)
	if err != nil {
		writeMachineError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(sess, snap)})
}

// QRCode handles GET /api/v1/checkout/sessions/{sessionID}/qr.png.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	state, isQR := sess.Machine.State().State.(checkout.QR)
	if !isQR {
		common.JSONError(w, http.StatusConflict, "NO_ACTIVE_CHALLENGE", "no payment challenge is being shown", nil)
		return
	}
	png, err := h.qr.PNG(state.QRString)
	if err != nil {
		h.logger.Error().Err(err).Str("merchant_order_id", state.MerchantOrderID).Msg("render_qr")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to render QR code", nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Events handles GET /api/v1/checkout/sessions/{sessionID}/events. The
// current snapshot is sent first, followed by every transition.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{
		hub:       h.hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: sess.ID,
		onPong:    func() { sess.Touch(time.Now()) },
	}
	if !h.hub.add(c, sess.Machine.State()) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		common.WriteError(w, err)
		return nil, false
	}
	return sess, true
}

func writeMachineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_TRANSITION", "action not allowed in the current checkout state", nil)
	case errors.Is(err, checkout.ErrBusy):
		common.JSONError(w, http.StatusConflict, "SUBMIT_IN_PROGRESS", "a payment is already being created", nil)
	case errors.Is(err, checkout.ErrAborted):
		common.JSONError(w, http.StatusConflict, "ATTEMPT_ABORTED", "the checkout was reset while the payment was being created", nil)
	case errors.Is(err, checkout.ErrClosed):
		common.JSONError(w, http.StatusGone, "SESSION_CLOSED", "checkout session closed", nil)
	default:
		common.WriteError(w, err)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(strings.TrimRight(a, "/"), u.Scheme+"://"+u.Host)
		})
	}
}
