package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"lovia/src/lib"
	"lovia/src/models"
	"lovia/src/types"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AlertCancelledOrderPaid = "cancelled_order_paid"
	AlertAmountMismatch     = "amount_mismatch"
)

const walletURLTTL = 20 * time.Minute

// StatusCache is the read-through cache used by status polling and the QR endpoint.
type StatusCache interface {
	GetStatus(ctx context.Context, orderUUID string) (string, bool)
	SetStatus(ctx context.Context, orderUUID string, status string)
	GetPaymentURL(ctx context.Context, orderUUID string) (string, bool)
	SetPaymentURL(ctx context.Context, orderUUID string, url string, ttl time.Duration)
	ForgetPaymentURL(ctx context.Context, orderUUID string)
}

type PaymentsOptions struct {
	Ledger         Ledger
	Directory      Directory
	Gateways       *lib.Gateways
	Dispatcher     *Dispatcher
	Publisher      lib.EventPublisher
	Cache          StatusCache
	PendingTimeout time.Duration
	ClientBackURL  string
}

// Payments coordinates outbound payment requests and inbound gateway
// notifications. It is the only caller of the ledger's transitions.
type Payments struct {
	ledger         Ledger
	directory      Directory
	gateways       *lib.Gateways
	dispatcher     *Dispatcher
	publisher      lib.EventPublisher
	cache          StatusCache
	pendingTimeout time.Duration
	clientBackURL  string
	now            func() time.Time
}

func NewPayments(opts PaymentsOptions) *Payments {
	return &Payments{
		ledger:         opts.Ledger,
		directory:      opts.Directory,
		gateways:       opts.Gateways,
		dispatcher:     opts.Dispatcher,
		publisher:      opts.Publisher,
		cache:          opts.Cache,
		pendingTimeout: opts.PendingTimeout,
		clientBackURL:  opts.ClientBackURL,
		now:            time.Now,
	}
}

// Checkout prices the selected plan and creates the pending order.
func (p *Payments) Checkout(ctx context.Context, userID uint, body *types.CheckoutRequestBody) (*models.Order, error) {
	plan, err := p.directory.FindPlan(ctx, body.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.ProjectID != body.ProjectID {
		return nil, NewValidationError("plan_id", "plan does not belong to project")
	}
	if _, err := p.directory.FindProject(ctx, body.ProjectID); err != nil {
		return nil, err
	}
	if plan.Shippable && body.Shipping == nil {
		return nil, NewValidationError("shipping", "required for this plan")
	}
	quantity := body.Quantity
	if quantity == 0 {
		quantity = 1
	}
	return p.ledger.CreatePendingOrder(ctx, &NewOrder{
		UserID:      userID,
		ProjectID:   body.ProjectID,
		PlanID:      body.PlanID,
		Quantity:    quantity,
		Amount:      plan.Amount * int64(quantity),
		DisplayName: body.DisplayName,
		Note:        body.Note,
		Shipping:    body.Shipping,
		Invoice:     body.Invoice,
	})
}

// RequestPayment builds the gateway redirect for one payment attempt.
// The method is checked before anything touches the database or network.
func (p *Payments) RequestPayment(ctx context.Context, userID uint, orderUUID uuid.UUID, method string) (*lib.RedirectArtifact, error) {
	m, err := lib.NormalizeMethod(method)
	if err != nil {
		return nil, err
	}
	gw, err := p.gateways.ForMethod(m)
	if err != nil {
		return nil, err
	}
	order, err := p.ledger.FindOrder(ctx, orderUUID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	if !order.IsPending() {
		return nil, ErrOrderNotPending
	}
	if m == lib.MethodLinePay && p.cache != nil {
		if url, ok := p.cache.GetPaymentURL(ctx, orderUUID.String()); ok {
			return &lib.RedirectArtifact{Gateway: gw.Name(), Method: m, RedirectURL: url}, nil
		}
	}

	attempt, err := p.ledger.BeginAttempt(ctx, orderUUID)
	if err != nil {
		return nil, err
	}
	req, err := p.paymentRequest(ctx, order, attempt, m)
	if err != nil {
		return nil, err
	}
	art, err := gw.BuildRedirectForm(ctx, req)
	if err != nil {
		log.Printf("[Reconcile] %s rejected attempt %d for order %s: %s\n", gw.Name(), attempt, orderUUID, err.Error())
		return nil, err
	}
	if art.TransactionID != "" {
		if err := p.ledger.RecordReservation(ctx, orderUUID, art.TransactionID); err != nil {
			log.Printf("[Reconcile] Error recording reservation %s for order %s: %s\n", art.TransactionID, orderUUID, err.Error())
			return nil, err
		}
	}
	if art.RedirectURL != "" && p.cache != nil {
		p.cache.SetPaymentURL(ctx, orderUUID.String(), art.RedirectURL, walletURLTTL)
	}
	return art, nil
}

func (p *Payments) paymentRequest(ctx context.Context, order *models.Order, attempt uint, m lib.Method) (*lib.PaymentRequest, error) {
	user, err := p.directory.FindUser(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	project, err := p.directory.FindProject(ctx, order.ProjectID)
	if err != nil {
		return nil, err
	}
	plan, err := p.directory.FindPlan(ctx, order.PlanID)
	if err != nil {
		return nil, err
	}
	return &lib.PaymentRequest{
		OrderUUID:     order.OrderUUID,
		Attempt:       attempt,
		Amount:        order.Amount,
		Email:         user.Email,
		UserID:        user.ID,
		Description:   project.Title,
		ItemName:      fmt.Sprintf("%s %s x%d", project.Title, plan.Name, order.Quantity),
		Method:        m,
		ClientBackURL: p.clientBackURL,
	}, nil
}

// GetOrderStatus serves status polling. Only terminal statuses are cached.
func (p *Payments) GetOrderStatus(ctx context.Context, orderUUID uuid.UUID) (*types.APIResponseOrderStatus, error) {
	key := orderUUID.String()
	if p.cache != nil {
		if raw, ok := p.cache.GetStatus(ctx, key); ok {
			var res types.APIResponseOrderStatus
			if err := json.Unmarshal([]byte(raw), &res); err == nil {
				return &res, nil
			}
		}
	}
	order, err := p.ledger.FindOrder(ctx, orderUUID)
	if err != nil {
		return nil, err
	}
	res := orderStatus(order)
	if order.Status.Terminal() {
		p.cacheStatus(ctx, res)
	}
	return res, nil
}

func orderStatus(order *models.Order) *types.APIResponseOrderStatus {
	res := &types.APIResponseOrderStatus{
		OrderUUID: order.OrderUUID.String(),
		Status:    order.Status,
		PaidAt:    order.PaidAt,
	}
	if order.PaymentMethod != nil {
		res.Method = *order.PaymentMethod
	}
	return res
}

func (p *Payments) cacheStatus(ctx context.Context, res *types.APIResponseOrderStatus) {
	if p.cache == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	p.cache.SetStatus(ctx, res.OrderUUID, string(b))
}

// HandleCardCallback processes an ECPay notification and returns the
// acknowledgement ECPay expects.
func (p *Payments) HandleCardCallback(ctx context.Context, raw []byte) lib.Ack {
	gw, ok := p.gateways.ByName(lib.GatewayECPay)
	if !ok {
		log.Println("[Reconcile] ECPay gateway is not configured")
		return lib.AckServerError
	}
	cb, err := gw.ParseCallback(raw)
	if err != nil {
		log.Printf("[Reconcile] Malformed ECPay notification: %s\n", err.Error())
		return lib.AckFail
	}
	if v, ok := gw.(lib.CallbackVerifier); ok {
		if err := v.VerifyCallback(cb); err != nil {
			log.Printf("[Reconcile] WARN rejected ECPay notification: %s params=%v\n", err.Error(), lib.RedactParams(cb.Params))
			return lib.AckCheckMacError
		}
	}
	orderUUID, err := cb.OrderUUID()
	if err != nil {
		log.Printf("[Reconcile] %s\n", err.Error())
		return lib.AckFail
	}
	order, err := p.ledger.FindOrder(ctx, orderUUID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Printf("[Reconcile] ECPay notification for unknown order %s\n", orderUUID)
			return lib.AckNotFound
		}
		log.Printf("[Reconcile] Error loading order %s: %s\n", orderUUID, err.Error())
		return lib.AckServerError
	}
	if cb.Kind == lib.CallbackPaymentInfo {
		return p.recordPaymentInfo(ctx, order, cb)
	}
	if !cb.Succeeded {
		log.Printf("[Reconcile] ECPay reported failure for order %s: %s %s\n", orderUUID, cb.ResultCode, cb.ResultMessage)
		return lib.AckOK
	}
	if order.IsPaid() {
		return lib.AckOK
	}
	payload := paramsJSON(cb.Params)
	if order.Amount != cb.Amount {
		log.Printf("[Reconcile] ERROR amount mismatch for order %s: stored=%d reported=%d\n", orderUUID, order.Amount, cb.Amount)
		p.raiseAlert(ctx, lib.GatewayECPay, AlertAmountMismatch, orderUUID, cb.TransactionID, cb.Amount, payload)
		return lib.AckAmountMismatch
	}

	paidAt := cb.PaidAt
	if paidAt.IsZero() {
		paidAt = p.now()
	}
	_, _, err = p.settle(ctx, lib.GatewayECPay, &PaidTransition{
		OrderUUID:     orderUUID,
		TransactionID: cb.TransactionID,
		Amount:        cb.Amount,
		PaidAt:        paidAt,
		Method:        ecpayMethodLabel(cb.PaymentType),
		Raw:           payload,
	})
	return ackFor(err)
}

func ackFor(err error) lib.Ack {
	switch {
	case err == nil:
		return lib.AckOK
	case errors.Is(err, errAlertNotRecorded):
		return lib.AckConflict
	case errors.Is(err, ErrOrderConflict):
		return lib.AckOK
	case errors.Is(err, ErrAmountMismatch):
		return lib.AckAmountMismatch
	case errors.Is(err, ErrOrderNotFound):
		return lib.AckNotFound
	}
	return lib.AckServerError
}

func (p *Payments) recordPaymentInfo(ctx context.Context, order *models.Order, cb *lib.GatewayCallback) lib.Ack {
	if !cb.Succeeded {
		log.Printf("[Reconcile] ATM account allocation failed for order %s: %s %s\n", order.OrderUUID, cb.ResultCode, cb.ResultMessage)
		return lib.AckOK
	}
	if cb.Amount != 0 && cb.Amount != order.Amount {
		log.Printf("[Reconcile] ERROR ATM amount mismatch for order %s: stored=%d reported=%d\n", order.OrderUUID, order.Amount, cb.Amount)
		return lib.AckAmountMismatch
	}
	if err := p.ledger.RecordPaymentInfo(ctx, order.OrderUUID, cb.Info); err != nil {
		if errors.Is(err, ErrOrderNotPending) {
			log.Printf("[Reconcile] ATM info for order %s ignored, status %s\n", order.OrderUUID, order.Status)
			return lib.AckOK
		}
		log.Printf("[Reconcile] Error recording ATM info for order %s: %s\n", order.OrderUUID, err.Error())
		return lib.AckServerError
	}
	return lib.AckOK
}

func reservedFor(order *models.Order, transactionID string) bool {
	return order.GatewayTransactionID != nil && *order.GatewayTransactionID == transactionID
}

// ConfirmWalletReturn finishes a LINE Pay payment when the payer comes back
// from the hosted page. Only the gateway's confirm reply counts as payment.
func (p *Payments) ConfirmWalletReturn(ctx context.Context, rawQuery []byte) (*models.Order, error) {
	gw, ok := p.gateways.ByName(lib.GatewayLinePay)
	if !ok {
		return nil, lib.ErrUnsupportedMethod
	}
	confirmer, ok := gw.(lib.PaymentConfirmer)
	if !ok {
		return nil, lib.ErrUnsupportedMethod
	}
	cb, err := gw.ParseCallback(rawQuery)
	if err != nil {
		return nil, err
	}
	orderUUID, err := cb.OrderUUID()
	if err != nil {
		return nil, err
	}
	order, err := p.ledger.FindOrder(ctx, orderUUID)
	if err != nil {
		return nil, err
	}
	if !reservedFor(order, cb.TransactionID) {
		log.Printf("[Reconcile] WARN LINE Pay transaction %s was not reserved for order %s\n", cb.TransactionID, orderUUID)
		return nil, fmt.Errorf("%w: transaction %s was not reserved for order %s", lib.ErrGatewayRejected, cb.TransactionID, orderUUID)
	}
	if order.IsPaid() {
		return order, nil
	}
	if !order.IsPending() {
		return nil, ErrOrderNotPending
	}

	receipt, err := confirmer.ConfirmPayment(ctx, cb.TransactionID, orderUUID, order.Amount)
	if err != nil {
		log.Printf("[Reconcile] LINE Pay confirm failed for order %s: %s\n", orderUUID, err.Error())
		return nil, err
	}
	if receipt.Amount != order.Amount {
		log.Printf("[Reconcile] ERROR amount mismatch for order %s: stored=%d confirmed=%d\n", orderUUID, order.Amount, receipt.Amount)
		p.raiseAlert(ctx, lib.GatewayLinePay, AlertAmountMismatch, orderUUID, receipt.TransactionID, receipt.Amount, jsonOrEmpty(receipt.Raw))
		return nil, ErrAmountMismatch
	}
	paidAt := receipt.PaidAt
	if paidAt.IsZero() {
		paidAt = p.now()
	}
	paid, _, err := p.settle(ctx, lib.GatewayLinePay, &PaidTransition{
		OrderUUID:     orderUUID,
		TransactionID: receipt.TransactionID,
		Amount:        receipt.Amount,
		PaidAt:        paidAt,
		Method:        receipt.Method,
		Raw:           jsonOrEmpty(receipt.Raw),
	})
	if p.cache != nil {
		p.cache.ForgetPaymentURL(ctx, orderUUID.String())
	}
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// settle applies the paid transition and, only when this call made the
// transition, dispatches side effects. Errors after the commit never
// surface to the gateway.
func (p *Payments) settle(ctx context.Context, gateway string, in *PaidTransition) (*models.Order, TransitionResult, error) {
	order, result, err := p.ledger.MarkPaid(ctx, in)
	if err != nil {
		if errors.Is(err, ErrOrderConflict) {
			log.Printf("[Reconcile] ALERT %s payment %s for cancelled order %s\n", gateway, in.TransactionID, in.OrderUUID)
			if alertErr := p.raiseAlert(ctx, gateway, AlertCancelledOrderPaid, in.OrderUUID, in.TransactionID, in.Amount, in.Raw); alertErr != nil {
				return order, 0, fmt.Errorf("%w: %w", err, alertErr)
			}
		}
		return order, 0, err
	}
	if result != Transitioned {
		return order, result, nil
	}
	log.Printf("[Reconcile] Order %s paid via %s (%s)\n", order.OrderUUID, gateway, in.TransactionID)
	p.cacheStatus(ctx, orderStatus(order))
	if p.dispatcher != nil {
		p.dispatcher.Dispatch(ctx, order)
	}
	return order, result, nil
}

func (p *Payments) raiseAlert(ctx context.Context, gateway, reason string, orderUUID uuid.UUID, txID string, amount int64, payload []byte) error {
	alert := &models.PaymentAlert{
		ID:            uuid.New(),
		OrderUUID:     orderUUID,
		Gateway:       gateway,
		Reason:        reason,
		TransactionID: txID,
		Amount:        amount,
		Payload:       datatypes.JSON(jsonOrEmpty(payload)),
		Status:        types.ALERT_OPEN,
	}
	if err := p.ledger.RecordAlert(ctx, alert); err != nil {
		log.Printf("[Reconcile] Error recording alert for order %s: %s\n", orderUUID, err.Error())
		return fmt.Errorf("%w: %w", errAlertNotRecorded, err)
	}
	if p.publisher != nil {
		err := p.publisher.Publish(ctx, lib.TopicPaymentAlert, types.JSONB{
			"alert_id":       alert.ID.String(),
			"order_uuid":     orderUUID.String(),
			"gateway":        gateway,
			"reason":         reason,
			"transaction_id": txID,
			"amount":         amount,
		})
		if err != nil {
			log.Printf("[Reconcile] Error publishing alert %s: %s\n", alert.ID, err.Error())
		}
	}
	return nil
}

// SweepExpired cancels pending orders older than the configured timeout.
func (p *Payments) SweepExpired(ctx context.Context) (int64, error) {
	n, err := p.ledger.CancelExpiredPending(ctx, p.pendingTimeout)
	if err != nil {
		log.Printf("[Sweep] Error cancelling expired orders: %s\n", err.Error())
		return 0, err
	}
	if n > 0 {
		log.Printf("[Sweep] Cancelled %d pending order(s) older than %s\n", n, p.pendingTimeout)
	}
	return n, nil
}

func (p *Payments) ListMine(ctx context.Context, userID uint, page, limit int) ([]types.APIResponseOrder, int64, error) {
	orders, total, err := p.ledger.ListPaidByUser(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]types.APIResponseOrder, 0, len(orders))
	for _, o := range orders {
		item := types.APIResponseOrder{
			OrderUUID:   o.OrderUUID.String(),
			ProjectID:   o.ProjectID,
			PlanID:      o.PlanID,
			Quantity:    o.Quantity,
			Amount:      o.Amount,
			Status:      o.Status,
			DisplayName: o.DisplayName,
			PaidAt:      o.PaidAt,
			CreatedAt:   o.CreatedAt,
		}
		if o.Project != nil {
			item.ProjectTitle = o.Project.Title
		}
		if o.Plan != nil {
			item.PlanName = o.Plan.Name
		}
		if o.PaymentMethod != nil {
			item.PaymentMethod = *o.PaymentMethod
		}
		if o.Invoice != nil && o.Invoice.InvoiceNo != nil {
			item.InvoiceNo = *o.Invoice.InvoiceNo
		}
		out = append(out, item)
	}
	return out, total, nil
}

// PaymentResult returns an order's payment outcome to its owner. Pending ATM
// orders carry the bank code and account to transfer to.
func (p *Payments) PaymentResult(ctx context.Context, userID uint, orderUUID uuid.UUID) (*types.APIResponsePaymentResult, error) {
	order, err := p.ledger.FindOrder(ctx, orderUUID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	res := &types.APIResponsePaymentResult{
		OrderUUID:     order.OrderUUID.String(),
		Status:        order.Status,
		Amount:        order.Amount,
		PaymentMethod: deref(order.PaymentMethod),
		PaidAt:        order.PaidAt,
		DisplayName:   order.DisplayName,
		Note:          order.Note,
		AtmBankCode:   deref(order.AtmBankCode),
		AtmPaymentNo:  deref(order.AtmPaymentNo),
		AtmExpireDate: deref(order.AtmExpireDate),
	}
	if s := order.Shipping; s != nil {
		res.Recipient = s.Name
		res.Phone = s.Phone
		res.Address = s.Address
	}
	if inv := order.Invoice; inv != nil {
		res.InvoiceType = inv.Type
		res.CarrierCode = deref(inv.CarrierCode)
		res.TaxID = deref(inv.TaxID)
		res.InvoiceTitle = inv.Title
		res.InvoiceNo = deref(inv.InvoiceNo)
	}
	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PaymentURL returns the reserved LINE Pay page for a pending order owned by userID.
func (p *Payments) PaymentURL(ctx context.Context, userID uint, orderUUID uuid.UUID) (string, error) {
	order, err := p.ledger.FindOrder(ctx, orderUUID)
	if err != nil {
		return "", err
	}
	if order.UserID != userID {
		return "", ErrForbidden
	}
	if !order.IsPending() {
		return "", ErrOrderNotPending
	}
	if p.cache == nil {
		return "", ErrPaymentURLNotFound
	}
	url, ok := p.cache.GetPaymentURL(ctx, orderUUID.String())
	if !ok {
		return "", ErrPaymentURLNotFound
	}
	return url, nil
}

func ecpayMethodLabel(paymentType string) string {
	prefix, _, _ := strings.Cut(paymentType, "_")
	switch strings.ToLower(prefix) {
	case "credit":
		return string(lib.MethodCredit)
	case "atm":
		return string(lib.MethodATM)
	case "webatm":
		return string(lib.MethodWebATM)
	case "":
		return lib.GatewayECPay
	}
	return strings.ToLower(paymentType)
}

func paramsJSON(params map[string]string) []byte {
	b, err := json.Marshal(lib.RedactParams(params))
	if err != nil {
		return []byte("{}")
	}
	return b
}

func jsonOrEmpty(b []byte) []byte {
	if len(b) == 0 || !json.Valid(b) {
		return []byte("{}")
	}
	return b
}
