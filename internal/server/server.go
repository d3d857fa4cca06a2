package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phangiadaiwork/shopvn-backend/internal/config"
	"github.com/phangiadaiwork/shopvn-backend/internal/domain"
	"github.com/phangiadaiwork/shopvn-backend/internal/usecase"
)

type Server struct {
	cfg      config.Config
	auth     *usecase.AuthService
	orders   *usecase.OrderService
	payments *usecase.PaymentService
	cart     *usecase.CartService
	log      *slog.Logger
	engine   *gin.Engine
}

func New(cfg config.Config, auth *usecase.AuthService, orders *usecase.OrderService, payments *usecase.PaymentService, cart *usecase.CartService, log *slog.Logger) *Server {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		auth:     auth,
		orders:   orders,
		payments: payments,
		cart:     cart,
		log:      log,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.POST("/auth/otp/request", s.handleRequestOTP)
	api.POST("/auth/login", s.handleLogin)

	// gateway-initiated callbacks carry their own signature, no session
	api.GET("/payments/vnpay/return", s.handleVNPayReturn)
	api.GET("/payments/vnpay/ipn", s.handleVNPayIPN)

	authed := api.Group("", s.requireAuth)
	authed.POST("/orders", s.handleCreateOrder)
	authed.GET("/orders", s.handleListOrders)
	authed.GET("/orders/:id", s.handleGetOrder)
	authed.POST("/orders/:id/cancel", s.handleCancelOrder)
	authed.POST("/orders/:id/refund", s.handleRefundOrder)
	authed.POST("/payments/vnpay/create", s.handleVNPayCreate)
	authed.POST("/payments/paypal/create", s.handlePayPalCreate)
	authed.POST("/payments/paypal/execute", s.handlePayPalExecute)
	authed.GET("/cart", s.handleGetCart)
	authed.POST("/cart/items", s.handleAddCartItem)
}

const userIDKey = "user_id"

func (s *Server) requireAuth(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		s.err(c, http.StatusUnauthorized, "Unauthorized", "Vui lòng đăng nhập")
		c.Abort()
		return
	}
	uid, err := s.auth.Verify(token)
	if err != nil {
		s.err(c, http.StatusUnauthorized, "Unauthorized", "Phiên đăng nhập không hợp lệ")
		c.Abort()
		return
	}
	c.Set(userIDKey, uid)
	c.Next()
}

func (s *Server) userID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(userIDKey)
	id, _ := v.(uuid.UUID)
	return id
}

type requestOTPReq struct {
	Phone string `json:"phone" binding:"required"`
}

func (s *Server) handleRequestOTP(c *gin.Context) {
	var req requestOTPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu không hợp lệ")
		return
	}
	if err := s.auth.RequestOTP(c.Request.Context(), req.Phone); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

type loginReq struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu không hợp lệ")
		return
	}
	token, user, err := s.auth.Login(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type addressReq struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone" binding:"required"`
	Address  string `json:"address" binding:"required"`
}

func (a *addressReq) toDomain() domain.Address {
	return domain.Address{FullName: a.FullName, Email: a.Email, Phone: a.Phone, Address: a.Address}
}

type orderItemReq struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice string `json:"unit_price"`
}

type createOrderReq struct {
	Items          []orderItemReq `json:"items" binding:"required,min=1,dive"`
	Shipping       addressReq     `json:"shipping" binding:"required"`
	Billing        *addressReq    `json:"billing"`
	ShippingFee    string         `json:"shipping_fee"`
	TaxAmount      string         `json:"tax_amount"`
	DiscountAmount string         `json:"discount_amount"`
	TotalAmount    string         `json:"total_amount"`
	Notes          string         `json:"notes"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu đơn hàng không hợp lệ")
		return
	}
	in := usecase.CreateOrderInput{
		Shipping: req.Shipping.toDomain(),
		Notes:    req.Notes,
	}
	if req.Billing != nil {
		in.Billing = req.Billing.toDomain()
	}
	var err error
	if in.ShippingFee, err = parseAmount(req.ShippingFee); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Phí vận chuyển không hợp lệ")
		return
	}
	if in.TaxAmount, err = parseAmount(req.TaxAmount); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Tiền thuế không hợp lệ")
		return
	}
	if in.DiscountAmount, err = parseAmount(req.DiscountAmount); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Tiền giảm giá không hợp lệ")
		return
	}
	if req.TotalAmount != "" {
		total, err := decimal.NewFromString(req.TotalAmount)
		if err != nil {
			s.err(c, http.StatusBadRequest, "BadRequest", "Tổng tiền không hợp lệ")
			return
		}
		in.TotalAmount = &total
	}
	for _, it := range req.Items {
		item := usecase.OrderItemInput{
			ProductID: uuid.MustParse(it.ProductID),
			Quantity:  it.Quantity,
		}
		if it.UnitPrice != "" {
			price, err := decimal.NewFromString(it.UnitPrice)
			if err != nil {
				s.err(c, http.StatusBadRequest, "BadRequest", "Giá sản phẩm không hợp lệ")
				return
			}
			item.UnitPrice = &price
		}
		in.Items = append(in.Items, item)
	}
	order, err := s.orders.Create(c.Request.Context(), s.userID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	orders, total, err := s.orders.ListByUser(c.Request.Context(), s.userID(c), page, pageSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Mã đơn hàng không hợp lệ")
		return
	}
	order, err := s.orders.GetOwned(c.Request.Context(), id, s.userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Mã đơn hàng không hợp lệ")
		return
	}
	if err := s.orders.Cancel(c.Request.Context(), id, s.userID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleRefundOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Mã đơn hàng không hợp lệ")
		return
	}
	// ownership implies refund permission in this surface; a dedicated
	// operator role would live in the admin gateway
	if _, err := s.orders.GetOwned(c.Request.Context(), id, s.userID(c)); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.payments.Refund(c.Request.Context(), id, s.userID(c).String()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

type vnpayCreateReq struct {
	OrderID  string `json:"order_id" binding:"required,uuid"`
	BankCode string `json:"bank_code"`
	Locale   string `json:"locale"`
}

func (s *Server) handleVNPayCreate(c *gin.Context) {
	var req vnpayCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu không hợp lệ")
		return
	}
	payURL, err := s.payments.InitiateVNPay(c.Request.Context(), s.userID(c), uuid.MustParse(req.OrderID), req.BankCode, req.Locale, c.ClientIP())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_url": payURL})
}

func (s *Server) handleVNPayReturn(c *gin.Context) {
	result, err := s.payments.HandleVNPayReturn(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleVNPayIPN(c *gin.Context) {
	c.JSON(http.StatusOK, s.payments.HandleVNPayIPN(c.Request.Context(), c.Request.URL.Query()))
}

type paypalCreateReq struct {
	OrderID     string `json:"order_id" binding:"required,uuid"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

func (s *Server) handlePayPalCreate(c *gin.Context) {
	var req paypalCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu không hợp lệ")
		return
	}
	result, err := s.payments.InitiatePayPal(c.Request.Context(), s.userID(c), uuid.MustParse(req.OrderID), req.Currency, req.Description)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type paypalExecuteReq struct {
	PaymentID string `json:"payment_id" binding:"required"`
	PayerID   string `json:"payer_id" binding:"required"`
	OrderID   string `json:"order_id" binding:"required,uuid"`
}

func (s *Server) handlePayPalExecute(c *gin.Context) {
	var req paypalExecuteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu không hợp lệ")
		return
	}
	result, err := s.payments.ExecutePayPal(c.Request.Context(), s.userID(c), uuid.MustParse(req.OrderID), req.PaymentID, req.PayerID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetCart(c *gin.Context) {
	items, err := s.cart.Get(c.Request.Context(), s.userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type addCartItemReq struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

func (s *Server) handleAddCartItem(c *gin.Context) {
	var req addCartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "Dữ liệu không hợp lệ")
		return
	}
	item, err := s.cart.AddItem(c.Request.Context(), s.userID(c), uuid.MustParse(req.ProductID), req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func parseAmount(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

// fail translates usecase errors into the response envelope.
func (s *Server) fail(c *gin.Context, err error) {
	var nf usecase.ErrNotFound
	var cf usecase.ErrConflict
	var br usecase.ErrBadRequest
	switch {
	case errors.As(err, &nf):
		s.err(c, http.StatusNotFound, "NotFound", nf.Error())
	case errors.As(err, &cf):
		s.err(c, http.StatusConflict, "Conflict", cf.Error())
	case errors.As(err, &br):
		s.err(c, http.StatusBadRequest, "BadRequest", br.Error())
	default:
		s.log.Error("request failed", "path", c.FullPath(), "err", err)
		s.err(c, http.StatusInternalServerError, "ServerError", "Đã xảy ra lỗi, vui lòng thử lại sau")
	}
}

func (s *Server) err(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}
