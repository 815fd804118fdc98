package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/gateway"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Gateway interface {
	Receive(ctx context.Context, req *gateway.Receive) (order orders.Order, err error)
	Query(ctx context.Context, id uuid.UUID) (order orders.Order, err error)
	List(ctx context.Context, req storage.ListRequest) (result storage.ListResult, err error)
	Cancel(ctx context.Context, id uuid.UUID) (order orders.Order, err error)
	Health(ctx context.Context) (balance uint64, err error)
	Process(ctx context.Context) (result gateway.ProcessResult, err error)
}

var _ Gateway = (*gateway.Controller)(nil)

// Manages the entire setup of the Gateway service
type Router struct {
	// Process interval
	ProcessInterval time.Duration
	// Gateway controller
	Gateway Gateway
	// Base Gin router to use for routing
	Base gin.IRouter
	// Required X-API-Key of the order routes. Empty disables the check
	ApiKey string
	// Prometheus exposition. Nil disables the route
	Metrics http.Handler
	Logger  *zerolog.Logger
}

const (
	IdParam          = "id"
	ApiKeyHeader     = "X-API-Key"
	OrdersPath       = "/orders"
	OrdersPathWithId = OrdersPath + "/:" + IdParam
	HealthPath       = "/health"
	MetricsPath      = "/metrics"
)

var errUnauthorized = errors.New("missing or invalid api key")

func (r *Router) logger() (logger *zerolog.Logger) {
	if r.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return r.Logger
}

func errorStatus(err error) (status int, code string) {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, gateway.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, gateway.ErrAddressConflict):
		return http.StatusInternalServerError, "address_conflict"
	case errors.Is(err, gateway.ErrExternalService):
		return http.StatusBadGateway, "external_service"
	case errors.Is(err, gateway.ErrPersistenceConflict):
		return http.StatusServiceUnavailable, "persistence_conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (r *Router) abort(ctx *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if code == "internal" {
		r.logger().Error().Err(err).Str("path", ctx.FullPath()).Msg("request failed")
		message = http.StatusText(status)
	}
	ctx.Error(err)
	ctx.AbortWithStatusJSON(status, ErrorResponse{Error: Error{Code: code, Message: message}})
}

func (r *Router) authenticate(ctx *gin.Context) {
	if r.ApiKey == "" {
		ctx.Next()
		return
	}
	key := ctx.GetHeader(ApiKeyHeader)
	if subtle.ConstantTimeCompare([]byte(key), []byte(r.ApiKey)) != 1 {
		r.abort(ctx, errUnauthorized)
		return
	}
	ctx.Next()
}

func (r *Router) parseId(ctx *gin.Context) (id uuid.UUID, ok bool) {
	id, err := uuid.Parse(ctx.Param(IdParam))
	if err != nil {
		r.abort(ctx, fmt.Errorf("%w: %w", gateway.ErrInvalidRequest, err))
		return id, false
	}
	return id, true
}

func (r *Router) createOrder(ctx *gin.Context) {
	var receive Receive
	err := ctx.ShouldBindJSON(&receive)
	if err != nil {
		r.abort(ctx, fmt.Errorf("%w: %w", gateway.ErrInvalidRequest, err))
		return
	}

	gatewayReceive, err := ReceiveToGateway(&receive)
	if err != nil {
		r.abort(ctx, err)
		return
	}

	order, err := r.Gateway.Receive(ctx.Request.Context(), &gatewayReceive)
	if err != nil {
		r.abort(ctx, err)
		return
	}
	out := OrderFromGateway(&order)
	ctx.PureJSON(http.StatusCreated, &out)
}

func (r *Router) orderStatus(ctx *gin.Context) {
	id, ok := r.parseId(ctx)
	if !ok {
		return
	}

	order, err := r.Gateway.Query(ctx.Request.Context(), id)
	if err != nil {
		r.abort(ctx, err)
		return
	}
	out := OrderFromGateway(&order)
	ctx.PureJSON(http.StatusOK, &out)
}

func (r *Router) cancelOrder(ctx *gin.Context) {
	id, ok := r.parseId(ctx)
	if !ok {
		return
	}

	order, err := r.Gateway.Cancel(ctx.Request.Context(), id)
	if err != nil {
		r.abort(ctx, err)
		return
	}
	out := OrderFromGateway(&order)
	ctx.PureJSON(http.StatusOK, &out)
}

func queryInt(ctx *gin.Context, key string) (value int, err error) {
	raw := ctx.Query(key)
	if raw == "" {
		return 0, nil
	}
	value, err = strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", gateway.ErrInvalidRequest, err)
	}
	return value, nil
}

func (r *Router) listOrders(ctx *gin.Context) {
	var (
		req storage.ListRequest
		err error
	)
	if raw := ctx.Query("status"); raw != "" {
		status := orders.Status(raw)
		req.Status = &status
	}
	req.Limit, err = queryInt(ctx, "limit")
	if err != nil {
		r.abort(ctx, err)
		return
	}
	req.Offset, err = queryInt(ctx, "offset")
	if err != nil {
		r.abort(ctx, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = storage.DefaultLimit
	}
	req.Limit = utils.Clamp(req.Limit, 1, storage.MaxLimit)

	result, err := r.Gateway.List(ctx.Request.Context(), req)
	if err != nil {
		r.abort(ctx, err)
		return
	}

	out := OrderList{
		Orders: make([]Order, 0, len(result.Orders)),
		Total:  result.Total,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	for index := range result.Orders {
		out.Orders = append(out.Orders, OrderFromGateway(&result.Orders[index]))
	}
	ctx.PureJSON(http.StatusOK, &out)
}

func (r *Router) health(ctx *gin.Context) {
	balance, err := r.Gateway.Health(ctx.Request.Context())
	if err != nil {
		r.logger().Warn().Err(err).Msg("health check failed")
		ctx.JSON(http.StatusServiceUnavailable, Health{Status: "unavailable"})
		return
	}
	out := Health{Status: "ok", Balance: &decimal.Decimal{}}
	out.Balance.FromUint64(balance)
	ctx.PureJSON(http.StatusOK, &out)
}

// Register routes in the Gin engine
func (r *Router) Register() {
	r.Base.GET(HealthPath, r.health)
	if r.Metrics != nil {
		r.Base.GET(MetricsPath, gin.WrapH(r.Metrics))
	}

	group := r.Base.Group("", r.authenticate)
	group.POST(OrdersPath, r.createOrder)
	group.GET(OrdersPath, r.listOrders)
	group.GET(OrdersPathWithId, r.orderStatus)
	group.DELETE(OrdersPathWithId, r.cancelOrder)
}

// Loop runs a process cycle every ProcessInterval until ctx is done
func (r *Router) Loop(ctx context.Context) {
	ticker := time.NewTicker(r.ProcessInterval)
	defer ticker.Stop()

	logger := r.logger()
	for {
		result, err := r.Gateway.Process(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to process orders")
		} else {
			logger.Debug().
				Uint64("events", result.Events).
				Uint64("expired", result.Expired).
				Msg("processed orders")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RequestLogger logs every request through logger
func RequestLogger(logger *zerolog.Logger) (handler gin.HandlerFunc) {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		event := logger.Info()
		if ctx.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", ctx.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", ctx.ClientIP()).
			Msg("request")
	}
}
