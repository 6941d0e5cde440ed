package common

import (
	"context"
	"errors"
	"fmt"
	"log"
	"lovia/src/lib"
	"lovia/src/models"
	"lovia/src/models/scopes"
	"lovia/src/types"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NewOrder struct {
	UserID      uint
	ProjectID   uint
	PlanID      uint
	Quantity    uint
	Amount      int64
	DisplayName string
	Note        string
	Shipping    *types.ShippingRequestBody
	Invoice     *types.InvoiceRequestBody
}

// PaidTransition carries what the gateway reported for a settled payment.
type PaidTransition struct {
	OrderUUID     uuid.UUID
	TransactionID string
	Amount        int64
	PaidAt        time.Time
	Method        string
	Raw           []byte
}

type TransitionResult int

const (
	Transitioned TransitionResult = iota + 1
	AlreadyPaid
)

// Ledger is the only place order state changes.
type Ledger interface {
	CreatePendingOrder(ctx context.Context, in *NewOrder) (*models.Order, error)
	FindOrder(ctx context.Context, orderUUID uuid.UUID) (*models.Order, error)
	BeginAttempt(ctx context.Context, orderUUID uuid.UUID) (uint, error)
	RecordPaymentInfo(ctx context.Context, orderUUID uuid.UUID, info *lib.PaymentInfo) error
	RecordReservation(ctx context.Context, orderUUID uuid.UUID, transactionID string) error
	MarkPaid(ctx context.Context, in *PaidTransition) (*models.Order, TransitionResult, error)
	CancelExpiredPending(ctx context.Context, olderThan time.Duration) (int64, error)
	RecordAlert(ctx context.Context, alert *models.PaymentAlert) error
	ListPaidByUser(ctx context.Context, userID uint, page, limit int) ([]models.Order, int64, error)
}

func InvoiceNumber(id uint) string {
	return fmt.Sprintf("LV-%06d", id)
}

func validateNewOrder(in *NewOrder) error {
	if in.Amount <= 0 {
		return NewValidationError("amount", "must be a positive integer")
	}
	if in.UserID == 0 || in.ProjectID == 0 || in.PlanID == 0 {
		return NewValidationError("", "user, project and plan are required")
	}
	if in.Invoice != nil {
		if err := types.ValidateInvoice(in.Invoice.Type, in.Invoice.CarrierCode, in.Invoice.TaxID); err != nil {
			return NewValidationError("invoice", err.Error())
		}
	}
	return nil
}

func buildOrder(in *NewOrder) *models.Order {
	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	order := &models.Order{
		OrderUUID:   uuid.New(),
		UserID:      in.UserID,
		ProjectID:   in.ProjectID,
		PlanID:      in.PlanID,
		Quantity:    quantity,
		Amount:      in.Amount,
		Status:      types.ORDER_PENDING,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Note:        strings.TrimSpace(in.Note),
	}
	if s := in.Shipping; s != nil {
		order.Shipping = &models.Shipping{
			Name:    s.Name,
			Phone:   s.Phone,
			Address: s.Address,
			Note:    s.Note,
		}
	}
	if inv := in.Invoice; inv != nil {
		invoice := &models.Invoice{Type: inv.Type, Title: inv.Title}
		if inv.CarrierCode != "" {
			code := strings.ToUpper(inv.CarrierCode)
			invoice.CarrierCode = &code
		}
		if inv.TaxID != "" {
			taxID := inv.TaxID
			invoice.TaxID = &taxID
		}
		order.Invoice = invoice
	}
	return order
}

type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

func (l *GormLedger) CreatePendingOrder(ctx context.Context, in *NewOrder) (*models.Order, error) {
	if err := validateNewOrder(in); err != nil {
		return nil, err
	}
	order := buildOrder(in)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		if order.Invoice != nil {
			no := InvoiceNumber(order.Invoice.ID)
			if err := tx.
				Model(&models.Invoice{}).
				Where("id = ?", order.Invoice.ID).
				Update("invoice_no", no).
				Error; err != nil {
				return err
			}
			order.Invoice.InvoiceNo = &no
		}
		return nil
	})
	if err != nil {
		log.Printf("[Ledger] Error creating order: %s\n", err.Error())
		return nil, err
	}
	return order, nil
}

func (l *GormLedger) FindOrder(ctx context.Context, orderUUID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := l.db.WithContext(ctx).
		Preload("Shipping").
		Preload("Invoice").
		Scopes(scopes.WithOrderUUID(orderUUID)).
		First(&order).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (l *GormLedger) BeginAttempt(ctx context.Context, orderUUID uuid.UUID) (uint, error) {
	var attempts []uint
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Model(&models.Order{}).
			Scopes(scopes.WithOrderUUID(orderUUID), scopes.WithPendingStatus).
			UpdateColumn("payment_attempts", gorm.Expr("payment_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderNotPending
		}
		return tx.
			Model(&models.Order{}).
			Scopes(scopes.WithOrderUUID(orderUUID)).
			Pluck("payment_attempts", &attempts).
			Error
	})
	if err != nil {
		return 0, err
	}
	if len(attempts) == 0 {
		return 0, ErrOrderNotFound
	}
	return attempts[0], nil
}

func (l *GormLedger) RecordPaymentInfo(ctx context.Context, orderUUID uuid.UUID, info *lib.PaymentInfo) error {
	res := l.db.WithContext(ctx).
		Model(&models.Order{}).
		Scopes(scopes.WithOrderUUID(orderUUID), scopes.WithPendingStatus).
		Updates(map[string]any{
			"atm_bank_code":   info.BankCode,
			"atm_payment_no":  info.PaymentNo,
			"atm_expire_date": info.ExpireDate,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotPending
	}
	return nil
}

// RecordReservation remembers the wallet transaction reserved for a pending
// order. A later confirm must present the same transaction id.
func (l *GormLedger) RecordReservation(ctx context.Context, orderUUID uuid.UUID, transactionID string) error {
	res := l.db.WithContext(ctx).
		Model(&models.Order{}).
		Scopes(scopes.WithOrderUUID(orderUUID), scopes.WithPendingStatus).
		Update("gateway_transaction_id", transactionID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotPending
	}
	return nil
}

// MarkPaid is a single conditional UPDATE on status and amount. The row is
// read back afterwards only to classify an update that matched nothing.
func (l *GormLedger) MarkPaid(ctx context.Context, in *PaidTransition) (*models.Order, TransitionResult, error) {
	var order models.Order
	var result TransitionResult
	raw := in.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Model(&models.Order{}).
			Scopes(scopes.WithOrderUUID(in.OrderUUID), scopes.WithPendingStatus).
			Where("amount = ?", in.Amount).
			Updates(map[string]any{
				"status":                 types.ORDER_PAID,
				"gateway_transaction_id": in.TransactionID,
				"paid_at":                in.PaidAt,
				"payment_method":         in.Method,
				"raw_gateway_result":     datatypes.JSON(raw),
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Preload("Invoice").Scopes(scopes.WithOrderUUID(in.OrderUUID)).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if res.RowsAffected > 0 {
			result = Transitioned
			return nil
		}
		return classifyUnmatched(&order, in, &result)
	})
	if err != nil {
		if order.ID == 0 {
			return nil, 0, err
		}
		return &order, 0, err
	}
	return &order, result, nil
}

func classifyUnmatched(order *models.Order, in *PaidTransition, result *TransitionResult) error {
	switch order.Status {
	case types.ORDER_PAID:
		*result = AlreadyPaid
		return nil
	case types.ORDER_CANCELLED:
		return ErrOrderConflict
	}
	if order.Amount != in.Amount {
		return ErrAmountMismatch
	}
	return ErrOrderNotPending
}

func (l *GormLedger) CancelExpiredPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := l.now().Add(-olderThan)
	res := l.db.WithContext(ctx).
		Model(&models.Order{}).
		Scopes(scopes.WithPendingStatus).
		Where("created_at < ?", cutoff).
		Update("status", types.ORDER_CANCELLED)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (l *GormLedger) RecordAlert(ctx context.Context, alert *models.PaymentAlert) error {
	return l.db.WithContext(ctx).Create(alert).Error
}

func (l *GormLedger) ListPaidByUser(ctx context.Context, userID uint, page, limit int) ([]models.Order, int64, error) {
	var total int64
	var orders []models.Order
	q := l.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID).
		Scopes(scopes.WithPaidStatus)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.
		Preload("Project").
		Preload("Plan").
		Preload("Invoice").
		Order("paid_at desc").
		Scopes(scopes.Paginate(page, limit)).
		Find(&orders).
		Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
