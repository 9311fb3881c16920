// Package httpapi exposes the storefront REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/services/catalog"
	"github.com/lrgstore/idstore/internal/app/services/health"
	"github.com/lrgstore/idstore/internal/app/services/linker"
	"github.com/lrgstore/idstore/internal/app/services/orders"
	"github.com/lrgstore/idstore/internal/app/services/topup"
	"github.com/lrgstore/idstore/internal/app/services/users"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/internal/middleware"
	"github.com/lrgstore/idstore/pkg/logger"
)

// Deps bundles the services the API serves.
type Deps struct {
	Users   *users.Service
	Catalog *catalog.Service
	Orders  *orders.Service
	TopUps  *topup.Service
	Linker  *linker.Service
	Health  *health.Service
	Auth    *middleware.AuthMiddleware
	Log     *logger.Logger
}

type handler struct {
	Deps
}

// NewHandler returns the API router. Auth-protected routes live under
// /api/v1 and admin routes under /api/v1/admin.
func NewHandler(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	h := &handler{Deps: deps}

	root := mux.NewRouter()
	root.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := root.PathPrefix("/api/v1").Subrouter()
	api.Use(deps.Auth.Handler)

	// Public routes bypass token validation via the middleware skip list.
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", h.getProduct).Methods(http.MethodGet)

	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/me/password", h.changePassword).Methods(http.MethodPost)

	api.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.purchase).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/credentials", h.submitCredentials).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/download", h.downloadCredential).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/logs", h.streamLogs).Methods(http.MethodGet)

	api.HandleFunc("/topups", h.listTopUps).Methods(http.MethodGet)
	api.HandleFunc("/topups", h.redeemVoucher).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(deps.Auth.RequireAdmin)
	h.registerAdminRoutes(admin)

	return root
}

// SkipAuthPaths lists routes that must work without a token.
func SkipAuthPaths() []string {
	return []string{
		"/api/v1/auth/register",
		"/api/v1/auth/login",
		"/api/v1/products",
		"/api/v1/products/",
	}
}

// --- auth -------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.Users.Register(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, userView(u))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, token, err := h.Users.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userView(u),
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, userView(u))
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.Users.ChangePassword(r.Context(), middleware.UserID(r.Context()), payload.CurrentPassword, payload.NewPassword); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- catalog ----------------------------------------------------------------

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	views, err := h.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	view, err := h.Catalog.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- orders -----------------------------------------------------------------

func (h *handler) purchase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID string `json:"product_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.Orders.Purchase(r.Context(), middleware.UserID(r.Context()), payload.ProductID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, orderView(o))
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListForUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, o := range list {
		views = append(views, orderView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"], false)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (h *handler) submitCredentials(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		LinkMethod   string `json:"link_method"`
		CustomerID   string `json:"customer_id"`
		CustomerPass string `json:"customer_pass"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	method, err := order.ParseLinkMethod(payload.LinkMethod)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.Orders.SubmitCredentials(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"], method, payload.CustomerID, payload.CustomerPass)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (h *handler) downloadCredential(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if _, err := h.Orders.Get(r.Context(), middleware.UserID(r.Context()), orderID, false); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	path, err := h.Orders.CredentialFile(r.Context(), orderID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", `attachment; filename="credential.xml"`)
	http.ServeFile(w, r, path)
}

// --- topups -----------------------------------------------------------------

func (h *handler) redeemVoucher(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		VoucherLink string `json:"voucher_link"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.VoucherLink) == "" {
		writeError(w, http.StatusBadRequest, errors.New("voucher_link is required"))
		return
	}

	t, err := h.TopUps.RedeemVoucher(r.Context(), middleware.UserID(r.Context()), payload.VoucherLink)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handler) listTopUps(w http.ResponseWriter, r *http.Request) {
	list, err := h.TopUps.History(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- health -----------------------------------------------------------------

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Health.Check(r.Context()))
}

// --- views ------------------------------------------------------------------

func userView(u user.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"email":      u.Email,
		"balance":    u.Balance,
		"role":       u.Role,
		"created_at": u.CreatedAt,
	}
}

func orderView(o order.Order) map[string]any {
	view := map[string]any{
		"id":         o.ID,
		"product_id": o.ProductID,
		"status":     o.Status,
		"created_at": o.CreatedAt,
		"updated_at": o.UpdatedAt,
	}
	if o.LinkMethod != "" {
		view["link_method"] = o.LinkMethod
		view["customer_id"] = o.CustomerID
	}
	return view
}

// --- helpers ----------------------------------------------------------------

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, storage.ErrOutOfStock), errors.Is(err, topup.ErrVoucherUsed):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, orders.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}
