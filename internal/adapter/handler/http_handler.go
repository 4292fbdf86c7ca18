package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/core/service"
)

const ipnAck = "IPN received"

type HTTPHandler struct {
	checkout   *service.CheckoutService
	reconciler *service.Reconciler
	coupons    *service.CouponService
	clientURL  string
	maxBody    int64
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

type ProductLine struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Price     decimal.Decimal `json:"price"`
}

type CustomerInfo struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
}

type CheckoutHTTPRequest struct {
	Products     []ProductLine `json:"products" validate:"required,min=1,dive"`
	CustomerInfo CustomerInfo  `json:"customerInfo"`
	CouponCode   string        `json:"couponCode"`
}

type AppliedCoupon struct {
	Code               string          `json:"code"`
	DiscountPercentage int             `json:"discountPercentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
}

type PaymentDetails struct {
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
	Coupon         *AppliedCoupon  `json:"coupon,omitempty"`
}

type CheckoutHTTPResponse struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	GatewayURL     string         `json:"gatewayUrl"`
	OrderID        string         `json:"orderId"`
	TransactionRef string         `json:"transactionRef"`
	PaymentDetails PaymentDetails `json:"paymentDetails"`
}

type OrderStatusResponse struct {
	OrderID            string          `json:"orderId"`
	PaymentStatus      string          `json:"paymentStatus"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	OriginalAmount     decimal.Decimal `json:"originalAmount"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	CouponCode         string          `json:"couponCode,omitempty"`
	DiscountPercentage int             `json:"discountPercentage,omitempty"`
	Products           []ProductLine   `json:"products"`
	CreatedAt          time.Time       `json:"createdAt"`
}

type CouponResponse struct {
	Code               string    `json:"code"`
	DiscountPercentage int       `json:"discountPercentage"`
	ExpirationDate     time.Time `json:"expirationDate"`
	IsActive           bool      `json:"isActive"`
}

type CouponValidationResponse struct {
	Message            string `json:"message"`
	Code               string `json:"code"`
	DiscountPercentage int    `json:"discountPercentage"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(
	checkout *service.CheckoutService,
	reconciler *service.Reconciler,
	coupons *service.CouponService,
	clientURL string,
	maxBody int64,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		checkout:   checkout,
		reconciler: reconciler,
		coupons:    coupons,
		clientURL:  clientURL,
		maxBody:    maxBody,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With(zap.String("component", "http_handler")),
		now:        time.Now,
	}
}

func (h *HTTPHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, MessageResponse{Message: "Unauthorized"})
		return
	}

	var req CheckoutHTTPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if len(req.Products) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "No products in cart"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationMessage(err)})
		return
	}

	lines := make([]domain.LineItem, 0, len(req.Products))
	for _, p := range req.Products {
		lines = append(lines, domain.LineItem{ProductID: p.ProductID, Quantity: p.Quantity, UnitPrice: p.Price})
	}

	result, err := h.checkout.Checkout(r.Context(), service.CheckoutRequest{
		UserID: userID,
		Lines:  lines,
		Customer: domain.CustomerInfo{
			Name:     req.CustomerInfo.Name,
			Email:    req.CustomerInfo.Email,
			Phone:    req.CustomerInfo.Phone,
			Address:  req.CustomerInfo.Address,
			City:     req.CustomerInfo.City,
			State:    req.CustomerInfo.State,
			Postcode: req.CustomerInfo.Postcode,
		},
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	pricing := result.Order.Pricing
	details := PaymentDetails{
		OriginalAmount: pricing.Subtotal,
		DiscountAmount: pricing.DiscountAmount,
		FinalAmount:    pricing.FinalAmount,
	}
	if result.Coupon != nil {
		details.Coupon = &AppliedCoupon{
			Code:               result.Coupon.Code,
			DiscountPercentage: result.Coupon.DiscountPercentage,
			DiscountAmount:     pricing.DiscountAmount,
		}
	}

	writeJSON(w, http.StatusOK, CheckoutHTTPResponse{
		Success:        true,
		Message:        "Payment session created",
		GatewayURL:     result.RedirectURL,
		OrderID:        result.Order.ID,
		TransactionRef: result.Order.TransactionRef,
		PaymentDetails: details,
	})
}

func (h *HTTPHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	ref, token := h.callbackFields(w, r)
	order, err := h.reconciler.HandleSuccess(callbackContext(r), ref, token)
	h.redirectForOutcome(w, r, order, err)
}

func (h *HTTPHandler) PaymentFail(w http.ResponseWriter, r *http.Request) {
	ref, _ := h.callbackFields(w, r)
	order, err := h.reconciler.HandleFail(callbackContext(r), ref)
	h.redirectForOutcome(w, r, order, err)
}

func (h *HTTPHandler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	ref, _ := h.callbackFields(w, r)
	order, err := h.reconciler.HandleCancel(callbackContext(r), ref)
	h.redirectForOutcome(w, r, order, err)
}

// PaymentIPN always acknowledges; the gateway retries on anything else.
func (h *HTTPHandler) PaymentIPN(w http.ResponseWriter, r *http.Request) {
	ref, token := h.callbackFields(w, r)
	if _, err := h.reconciler.HandleIPN(callbackContext(r), ref, token); err != nil {
		h.logger.Warn("ipn not applied", zap.String("transaction_ref", ref), zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ipnAck))
}

func (h *HTTPHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, MessageResponse{Message: "Unauthorized"})
		return
	}

	order, err := h.checkout.OrderStatus(r.Context(), chi.URLParam(r, "orderId"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	products := make([]ProductLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		products = append(products, ProductLine{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.UnitPrice})
	}

	writeJSON(w, http.StatusOK, OrderStatusResponse{
		OrderID:            order.ID,
		PaymentStatus:      string(order.PaymentStatus),
		TotalAmount:        order.Pricing.FinalAmount,
		OriginalAmount:     order.Pricing.Subtotal,
		DiscountAmount:     order.Pricing.DiscountAmount,
		CouponCode:         order.CouponCode,
		DiscountPercentage: order.DiscountPercentage,
		Products:           products,
		CreatedAt:          order.CreatedAt,
	})
}

func (h *HTTPHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, MessageResponse{Message: "Unauthorized"})
		return
	}

	coupon, err := h.coupons.ActiveCoupon(r.Context(), userID, h.now())
	if err != nil {
		if errors.Is(err, domain.ErrCoupon) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No active coupon found"})
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CouponResponse{
		Code:               coupon.Code,
		DiscountPercentage: coupon.DiscountPercentage,
		ExpirationDate:     coupon.ExpiresAt,
		IsActive:           coupon.Active,
	})
}

func (h *HTTPHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, MessageResponse{Message: "Unauthorized"})
		return
	}

	coupon, err := h.coupons.Evaluate(r.Context(), r.URL.Query().Get("code"), userID, h.now())
	switch {
	case errors.Is(err, domain.ErrCouponNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Invalid or inactive coupon code"})
		return
	case errors.Is(err, domain.ErrCouponExpired):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Coupon has expired"})
		return
	case err != nil:
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CouponValidationResponse{
		Message:            "Coupon is valid",
		Code:               coupon.Code,
		DiscountPercentage: coupon.DiscountPercentage,
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// callbackFields reads the form-encoded gateway payload. A malformed body
// yields empty fields, which the reconciler rejects as a validation error.
func (h *HTTPHandler) callbackFields(w http.ResponseWriter, r *http.Request) (transactionRef, token string) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("malformed callback body", zap.String("path", r.URL.Path), zap.Error(err))
		return "", ""
	}
	return r.PostFormValue("tran_id"), r.PostFormValue("val_id")
}

// callbackContext detaches callback processing from the gateway connection so
// a dropped connection cannot abort a transition midway.
func callbackContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *HTTPHandler) redirectForOutcome(w http.ResponseWriter, r *http.Request, order *domain.Order, err error) {
	if err != nil {
		h.redirect(w, r, "/payment/error", url.Values{"message": {callbackErrorMessage(err)}})
		if !isExpectedCallbackError(err) {
			h.logger.Error("callback processing failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		return
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusPaid:
		h.redirect(w, r, "/payment/success", url.Values{"orderId": {order.ID}})
	case domain.PaymentStatusFailed:
		h.redirect(w, r, "/payment/failed", nil)
	case domain.PaymentStatusCancelled:
		h.redirect(w, r, "/payment/cancelled", nil)
	default:
		h.redirect(w, r, "/payment/error", url.Values{"message": {"Payment is being processed"}})
	}
}

func (h *HTTPHandler) redirect(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	target := h.clientURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func callbackErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, domain.ErrPaymentNotVerified):
		return "Payment validation failed"
	case errors.Is(err, domain.ErrCallbackInProgress):
		return "Payment is being processed"
	case errors.Is(err, domain.ErrGateway):
		return "Payment gateway unavailable"
	case errors.Is(err, domain.ErrValidation):
		return "Invalid payment callback"
	}
	return "Something went wrong"
}

func isExpectedCallbackError(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrPaymentNotVerified) ||
		errors.Is(err, domain.ErrCallbackInProgress) ||
		errors.Is(err, domain.ErrGateway) ||
		errors.Is(err, domain.ErrValidation)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrCouponNotFound):
		status, message = http.StatusBadRequest, "Invalid or inactive coupon code"
	case errors.Is(err, domain.ErrCouponExpired):
		status, message = http.StatusBadRequest, "Coupon has expired"
	case errors.Is(err, domain.ErrCouponInvalid):
		status, message = http.StatusBadRequest, "Invalid coupon"
	case errors.Is(err, domain.ErrOrderNotFound):
		status, message = http.StatusNotFound, "Order not found"
	case errors.Is(err, domain.ErrForbidden):
		status, message = http.StatusForbidden, "Order does not belong to this user"
	case errors.Is(err, domain.ErrGatewayRejected):
		status, message = http.StatusBadRequest, "Failed to initialize payment"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		status, message = http.StatusBadGateway, "Payment gateway unavailable"
	default:
		h.logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{Error: message})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid field %s: failed %q", fe.Namespace(), fe.Tag())
	}
	return "invalid request"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
