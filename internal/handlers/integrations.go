package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"marketsync/internal/integrations"
	"marketsync/internal/logger"
	"marketsync/internal/shopee"
	"marketsync/internal/syncer"
)

const maxLookbackDays = 90

// Syncer runs one sync for a user.
type Syncer interface {
	Sync(ctx context.Context, userID string, opts syncer.Options) (*syncer.Summary, error)
}

// Flusher is called once per invocation, after the response is built.
type Flusher func(ctx context.Context) error

// IntegrationsHandler serves the Shopee integration routes of the HTTP API:
//
//	GET    /health                    liveness, no auth
//	GET    /integrations/shopee       status, never credentials
//	DELETE /integrations/shopee       deactivate
//	POST   /integrations/shopee/sync  run a sync now (?lookback_days=1..90)
type IntegrationsHandler struct {
	store  integrations.Store
	syncer Syncer
	flush  Flusher
	logger *zap.Logger
}

func NewIntegrationsHandler(store integrations.Store, s Syncer, flush Flusher, log *zap.Logger) *IntegrationsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &IntegrationsHandler{store: store, syncer: s, flush: flush, logger: log}
}

func (h *IntegrationsHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	ctx, log := logger.WithLambdaRequest(ctx, h.logger)
	if h.flush != nil {
		defer func() {
			if err := h.flush(context.WithoutCancel(ctx)); err != nil {
				log.Warn("flush metrics", zap.Error(err))
			}
		}()
	}

	method := req.RequestContext.HTTP.Method
	switch strings.TrimRight(req.RawPath, "/") {
	case "/health":
		return jsonResp(http.StatusOK, map[string]any{"ok": true, "service": "marketsync"})
	case "/integrations/shopee":
		switch method {
		case http.MethodGet:
			return h.status(ctx, req)
		case http.MethodDelete:
			return h.disconnect(ctx, req)
		}
		return errResp(http.StatusMethodNotAllowed, "method not allowed")
	case "/integrations/shopee/sync":
		if method == http.MethodPost {
			return h.sync(ctx, req)
		}
		return errResp(http.StatusMethodNotAllowed, "method not allowed")
	default:
		return errResp(http.StatusNotFound, "not found")
	}
}

type statusResponse struct {
	Platform   string     `json:"platform"`
	IsActive   bool       `json:"isActive"`
	SyncStatus string     `json:"syncStatus"`
	LastSyncAt *time.Time `json:"lastSyncAt"`
}

func (h *IntegrationsHandler) status(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := userSub(req)
	if err != nil {
		return errResp(http.StatusUnauthorized, "unauthorized")
	}

	integ, err := h.store.Get(ctx, sub, integrations.PlatformShopee)
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return errResp(http.StatusNotFound, "shopee is not connected")
		}
		logger.FromContext(ctx).Error("load integration", zap.String("user_id", sub), zap.Error(err))
		return errResp(http.StatusInternalServerError, "failed to load integration")
	}

	return jsonResp(http.StatusOK, statusResponse{
		Platform:   integ.Platform,
		IsActive:   integ.IsActive,
		SyncStatus: string(integ.SyncStatus),
		LastSyncAt: integ.LastSyncAt,
	})
}

func (h *IntegrationsHandler) disconnect(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := userSub(req)
	if err != nil {
		return errResp(http.StatusUnauthorized, "unauthorized")
	}

	if err := h.store.Deactivate(ctx, sub, integrations.PlatformShopee); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return errResp(http.StatusNotFound, "shopee is not connected")
		}
		logger.FromContext(ctx).Error("deactivate integration", zap.String("user_id", sub), zap.Error(err))
		return errResp(http.StatusInternalServerError, "disconnect failed")
	}
	return jsonResp(http.StatusOK, map[string]any{"ok": true})
}

func (h *IntegrationsHandler) sync(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sub, err := userSub(req)
	if err != nil {
		return errResp(http.StatusUnauthorized, "unauthorized")
	}

	var opts syncer.Options
	if v := strings.TrimSpace(req.QueryStringParameters["lookback_days"]); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 || days > maxLookbackDays {
			return errResp(http.StatusBadRequest, "lookback_days must be between 1 and 90")
		}
		opts.Lookback = time.Duration(days) * 24 * time.Hour
	}

	sum, err := h.syncer.Sync(ctx, sub, opts)
	if err != nil {
		status, msg := syncErrorStatus(err)
		return errResp(status, msg)
	}
	return jsonResp(http.StatusOK, sum)
}

// syncErrorStatus maps a failed run to an HTTP status and a user facing message.
func syncErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, syncer.ErrInProgress):
		return http.StatusConflict, "a sync is already running"
	case errors.Is(err, integrations.ErrNotFound):
		return http.StatusNotFound, "shopee is not connected"
	case errors.Is(err, integrations.ErrInactive):
		return http.StatusConflict, "shopee integration is disconnected"
	case errors.Is(err, shopee.ErrAuth):
		return http.StatusForbidden, "shopee authorization expired, reconnect the store"
	case errors.Is(err, shopee.ErrParam), errors.Is(err, shopee.ErrRequestFailed),
		errors.Is(err, shopee.ErrInvalidResponse), errors.Is(err, shopee.ErrAPI):
		return http.StatusBadGateway, "shopee request failed: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "sync timed out"
	default:
		return http.StatusInternalServerError, "sync failed"
	}
}
