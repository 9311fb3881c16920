package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lrgstore/idstore/internal/app/domain/order"
	"github.com/lrgstore/idstore/internal/app/domain/product"
)

const maxUploadSize = 8 << 20

func (h *handler) registerAdminRoutes(admin *mux.Router) {
	admin.HandleFunc("/users", h.adminListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/balance", h.adminAdjustBalance).Methods(http.MethodPost)

	admin.HandleFunc("/products", h.adminCreateProduct).Methods(http.MethodPost)
	admin.HandleFunc("/products/{id}", h.adminUpdateProduct).Methods(http.MethodPut)
	admin.HandleFunc("/products/{id}", h.adminDeleteProduct).Methods(http.MethodDelete)
	admin.HandleFunc("/products/{id}/stock", h.adminListStock).Methods(http.MethodGet)
	admin.HandleFunc("/products/{id}/stock", h.adminAddStock).Methods(http.MethodPost)
	admin.HandleFunc("/stock/{id}", h.adminRemoveStock).Methods(http.MethodDelete)

	admin.HandleFunc("/orders", h.adminListOrders).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}", h.adminGetOrder).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", h.adminUpdateOrderStatus).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/link", h.adminLinkOrder).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/phase2", h.adminPhase2).Methods(http.MethodPost)

	admin.HandleFunc("/stats", h.adminStats).Methods(http.MethodGet)
}

func (h *handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, u := range list {
		views = append(views, userView(u))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) adminAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Delta float64 `json:"delta"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.Users.AdjustBalance(r.Context(), mux.Vars(r)["id"], payload.Delta)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, userView(u))
}

// productPayload reads a product from either a JSON body or a multipart
// form with an optional image upload.
func (h *handler) productPayload(r *http.Request) (product.Product, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var payload struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			Price       float64 `json:"price"`
			ImagePath   string  `json:"image_path"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			return product.Product{}, err
		}
		return product.Product{
			Name:        payload.Name,
			Description: payload.Description,
			Price:       payload.Price,
			ImagePath:   payload.ImagePath,
		}, nil
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return product.Product{}, err
	}
	p := product.Product{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	}
	if raw := r.FormValue("price"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return product.Product{}, err
		}
		p.Price = price
	}
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		content, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
		if err != nil {
			return product.Product{}, err
		}
		path, err := h.Catalog.SaveImage(header.Filename, content)
		if err != nil {
			return product.Product{}, err
		}
		p.ImagePath = path
	}
	return p, nil
}

func (h *handler) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.productPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.Catalog.Create(r.Context(), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.productPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p.ID = mux.Vars(r)["id"]

	updated, err := h.Catalog.Update(r.Context(), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) adminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminAddStock accepts the credential XML either as a multipart file
// upload or as the raw request body.
func (h *handler) adminAddStock(w http.ResponseWriter, r *http.Request) {
	const maxCredentialSize = 1 << 20

	var (
		content []byte
		err     error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxCredentialSize); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, ferr)
			return
		}
		defer file.Close()
		content, err = io.ReadAll(io.LimitReader(file, maxCredentialSize))
	} else {
		content, err = readBody(r, maxCredentialSize)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.Catalog.AddStock(r.Context(), mux.Vars(r)["id"], content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *handler) adminListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListStock(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) adminRemoveStock(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.RemoveStock(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	var status order.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := order.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		status = parsed
	}

	list, err := h.Orders.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// adminGetOrder returns the full order record for the admin console,
// including the buyer identity and the submitted link credentials.
func (h *handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), "", mux.Vars(r)["id"], true)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	view := orderView(o)
	view["user_id"] = o.UserID
	view["stock_item_id"] = o.StockItemID
	if o.CustomerPass != "" {
		view["customer_pass"] = o.CustomerPass
	}
	if u, err := h.Users.Get(r.Context(), o.UserID); err == nil {
		view["username"] = u.Username
	}
	if p, err := h.Catalog.Get(r.Context(), o.ProductID); err == nil {
		view["product_name"] = p.Name
	}
	writeJSON(w, http.StatusOK, view)
}

// adminUpdateOrderStatus takes the new status either as a JSON body or as a
// form field, since the admin console still submits plain forms.
func (h *handler) adminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var raw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Status string `json:"status"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		raw = payload.Status
	} else {
		raw = r.FormValue("status")
	}
	status, err := order.ParseStatus(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.Orders.SetStatus(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// linkResponse is the envelope the admin console expects from link calls.
// It is always delivered with HTTP 200; success is carried in the body.
type linkResponse struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	VerificationCode string         `json:"verification_code,omitempty"`
	OrderInfo        *linkOrderInfo `json:"order_info,omitempty"`
}

type linkOrderInfo struct {
	LinkMethod   string `json:"link_method"`
	CustomerID   string `json:"customer_id"`
	CustomerPass string `json:"customer_pass"`
}

// adminLinkOrder runs the full link flow for an order and waits for the
// result. The device processes jobs one at a time, so this call may queue.
func (h *handler) adminLinkOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	o, err := h.Orders.Get(r.Context(), "", orderID, true)
	if err != nil {
		writeJSON(w, http.StatusOK, linkResponse{Success: false, Message: err.Error()})
		return
	}
	if !o.HasCredentials() {
		writeJSON(w, http.StatusOK, linkResponse{Success: false, Message: "order has no link credentials"})
		return
	}

	info := &linkOrderInfo{
		LinkMethod:   string(o.LinkMethod),
		CustomerID:   o.CustomerID,
		CustomerPass: o.CustomerPass,
	}

	job, err := h.Linker.LinkOrder(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusOK, linkResponse{Success: false, Message: err.Error(), OrderInfo: info})
		return
	}
	if job.Error != "" {
		writeJSON(w, http.StatusOK, linkResponse{Success: false, Message: job.Error, OrderInfo: info})
		return
	}

	message := "Link complete (" + strings.ToUpper(string(o.LinkMethod)) + " login)"
	if job.VerificationCode != "" {
		message = "Google 2FA code: " + job.VerificationCode
	}
	writeJSON(w, http.StatusOK, linkResponse{
		Success:          true,
		Message:          message,
		VerificationCode: job.VerificationCode,
		OrderInfo:        info,
	})
}

func (h *handler) adminPhase2(w http.ResponseWriter, r *http.Request) {
	job, err := h.Linker.ContinuePhase2(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusOK, linkResponse{Success: false, Message: err.Error()})
		return
	}
	if job.Error != "" {
		writeJSON(w, http.StatusOK, linkResponse{Success: false, Message: job.Error})
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{Success: true, Message: "Phase 2 complete"})
}

func (h *handler) adminStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Orders.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	products, err := h.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders_pending":    counts[order.StatusPending],
		"orders_processing": counts[order.StatusProcessing],
		"orders_done":       counts[order.StatusDone],
		"products":          len(products),
	})
}
