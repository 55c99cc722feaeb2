package service

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/models"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Callback parameter names used by the payment provider
const (
	ParamOrderID = "out_trade_no"
	ParamTradeID = "trade_no"
)

// PaymentProvider verifies callbacks and builds payment redirects
type PaymentProvider interface {
	Verify(params map[string]string, signature string) bool
	BuildPaymentURL(orderID string, amount decimal.Decimal, subject, returnURL string) (string, error)
}

// PaymentStore is the persistence the payment service needs
type PaymentStore interface {
	InSavepoint(ctx context.Context, name string, fn func(q store.Querier) error) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
}

// PaymentConfig holds provider redirect settings
type PaymentConfig struct {
	ReturnURL     string
	SubjectPrefix string
}

// PaymentService reconciles provider callbacks into order state
type PaymentService struct {
	store     PaymentStore
	provider  PaymentProvider
	publisher EventPublisher
	cfg       PaymentConfig
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(store PaymentStore, provider PaymentProvider, publisher EventPublisher, cfg PaymentConfig) *PaymentService {
	return &PaymentService{
		store:     store,
		provider:  provider,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.Named("payment_service"),
	}
}

// Confirm applies a signed payment callback. The first verified callback for
// an UNPAID order moves it to UNSENT and records the payment; repeats return
// the payment recorded the first time.
func (ps *PaymentService) Confirm(ctx context.Context, params map[string]string, signature string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm")
	defer span.End()

	if !ps.provider.Verify(params, signature) {
		util.PaymentCallbacksTotal.WithLabelValues("signature_invalid").Inc()
		ps.logger.Warn("Rejected payment callback with invalid signature",
			zap.String("order_id", params[ParamOrderID]))
		return nil, ErrSignatureInvalid
	}

	orderID := params[ParamOrderID]
	tradeID := params[ParamTradeID]
	if orderID == "" || tradeID == "" {
		util.PaymentCallbacksTotal.WithLabelValues("precondition").Inc()
		return nil, preconditionf("callback missing %s or %s", ParamOrderID, ParamTradeID)
	}
	span.SetAttributes(attribute.String("order_id", orderID))

	var (
		payment    *models.Payment
		transition bool
	)
	err := ps.store.InSavepoint(ctx, "confirm_payment", func(q store.Querier) error {
		changed, err := q.TransitionOrderStatus(ctx, orderID, models.OrderStatusUnpaid, models.OrderStatusUnsent)
		if err != nil {
			return err
		}

		if changed {
			transition = true
			payment = &models.Payment{OrderID: orderID, TradeID: tradeID}
			return q.CreatePayment(ctx, payment)
		}

		payment, err = q.GetPaymentByOrderID(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("order %s: %w", orderID, ErrOrderNotPayable)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotPayable) {
			util.PaymentCallbacksTotal.WithLabelValues("not_payable").Inc()
			ps.logger.Warn("Payment callback for order that is not payable",
				zap.String("order_id", orderID),
				zap.String("trade_id", tradeID))
			return nil, err
		}
		util.PaymentCallbacksTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	if !transition {
		util.PaymentCallbacksTotal.WithLabelValues("already_processed").Inc()
		ps.logger.Info("Payment callback already processed",
			zap.String("order_id", orderID),
			zap.String("trade_id", payment.TradeID))
		return payment, nil
	}

	util.PaymentCallbacksTotal.WithLabelValues("confirmed").Inc()
	ps.logger.Info("Payment confirmed",
		zap.String("order_id", orderID),
		zap.String("trade_id", tradeID))

	event := &models.OrderPaidEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderPaid),
		OrderID:   orderID,
		TradeID:   tradeID,
	}
	if err := ps.publisher.PublishOrderPaid(context.WithoutCancel(ctx), event); err != nil {
		ps.logger.Error("Failed to publish OrderPaid event",
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	return payment, nil
}

// PaymentURL returns the provider redirect for an unpaid order owned by userID
func (ps *PaymentService) PaymentURL(ctx context.Context, userID int64, orderID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.PaymentURL")
	defer span.End()

	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("order %s: %w", orderID, ErrOrderNotPayable)
		}
		return "", err
	}

	if order.UserID != userID || order.Status != models.OrderStatusUnpaid {
		return "", fmt.Errorf("order %s: %w", orderID, ErrOrderNotPayable)
	}

	url, err := ps.provider.BuildPaymentURL(order.OrderID, order.TotalAmount, ps.cfg.SubjectPrefix+order.OrderID, ps.cfg.ReturnURL)
	if err != nil {
		return "", fmt.Errorf("failed to build payment url: %w", err)
	}
	return url, nil
}
