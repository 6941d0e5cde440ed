package common

import (
	"context"
	"lovia/src/lib"
	"lovia/src/models"
	"lovia/src/types"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type memLedger struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*models.Order
	alerts    []models.PaymentAlert
	alertErr  error
	nextID    uint
	invoiceID uint
	now       func() time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{orders: map[uuid.UUID]*models.Order{}, now: time.Now}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.Invoice != nil {
		inv := *o.Invoice
		c.Invoice = &inv
	}
	if o.Shipping != nil {
		s := *o.Shipping
		c.Shipping = &s
	}
	return &c
}

func (l *memLedger) CreatePendingOrder(ctx context.Context, in *NewOrder) (*models.Order, error) {
	if err := validateNewOrder(in); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	order := buildOrder(in)
	l.nextID++
	order.ID = l.nextID
	order.CreatedAt = l.now()
	if order.Invoice != nil {
		l.invoiceID++
		order.Invoice.ID = l.invoiceID
		no := InvoiceNumber(order.Invoice.ID)
		order.Invoice.InvoiceNo = &no
	}
	l.orders[order.OrderUUID] = order
	return cloneOrder(order), nil
}

func (l *memLedger) FindOrder(ctx context.Context, orderUUID uuid.UUID) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderUUID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (l *memLedger) BeginAttempt(ctx context.Context, orderUUID uuid.UUID) (uint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderUUID]
	if !ok || !o.IsPending() {
		return 0, ErrOrderNotPending
	}
	o.PaymentAttempts++
	return o.PaymentAttempts, nil
}

func (l *memLedger) RecordPaymentInfo(ctx context.Context, orderUUID uuid.UUID, info *lib.PaymentInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderUUID]
	if !ok || !o.IsPending() {
		return ErrOrderNotPending
	}
	o.AtmBankCode = &info.BankCode
	o.AtmPaymentNo = &info.PaymentNo
	o.AtmExpireDate = &info.ExpireDate
	return nil
}

func (l *memLedger) RecordReservation(ctx context.Context, orderUUID uuid.UUID, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderUUID]
	if !ok || !o.IsPending() {
		return ErrOrderNotPending
	}
	o.GatewayTransactionID = &transactionID
	return nil
}

func (l *memLedger) reservation(orderUUID uuid.UUID) *string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[orderUUID].GatewayTransactionID
}

func (l *memLedger) MarkPaid(ctx context.Context, in *PaidTransition) (*models.Order, TransitionResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[in.OrderUUID]
	if !ok {
		return nil, 0, ErrOrderNotFound
	}
	if o.IsPending() && o.Amount == in.Amount {
		paidAt := in.PaidAt
		method := in.Method
		txID := in.TransactionID
		o.Status = types.ORDER_PAID
		o.PaidAt = &paidAt
		o.PaymentMethod = &method
		o.GatewayTransactionID = &txID
		o.RawGatewayResult = datatypes.JSON(in.Raw)
		return cloneOrder(o), Transitioned, nil
	}
	var result TransitionResult
	err := classifyUnmatched(o, in, &result)
	return cloneOrder(o), result, err
}

func (l *memLedger) CancelExpiredPending(ctx context.Context, olderThan time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-olderThan)
	var n int64
	for _, o := range l.orders {
		if o.IsPending() && o.CreatedAt.Before(cutoff) {
			o.Status = types.ORDER_CANCELLED
			n++
		}
	}
	return n, nil
}

func (l *memLedger) RecordAlert(ctx context.Context, alert *models.PaymentAlert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.alertErr != nil {
		return l.alertErr
	}
	l.alerts = append(l.alerts, *alert)
	return nil
}

func (l *memLedger) ListPaidByUser(ctx context.Context, userID uint, page, limit int) ([]models.Order, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var paid []models.Order
	for _, o := range l.orders {
		if o.UserID == userID && o.IsPaid() {
			paid = append(paid, *cloneOrder(o))
		}
	}
	sort.Slice(paid, func(i, j int) bool { return paid[i].PaidAt.After(*paid[j].PaidAt) })
	total := int64(len(paid))
	start := (page - 1) * limit
	if start >= len(paid) {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > len(paid) {
		end = len(paid)
	}
	return paid[start:end], total, nil
}

func (l *memLedger) setStatus(id uuid.UUID, status types.OrderStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[id].Status = status
}

func (l *memLedger) age(id uuid.UUID, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[id].CreatedAt = l.now().Add(-d)
}

func (l *memLedger) status(id uuid.UUID) types.OrderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[id].Status
}

type memDirectory struct {
	mu       sync.Mutex
	users    map[uint]*models.User
	projects map[uint]*models.Project
	plans    map[uint]*models.Plan
	totalErr error
	bumps    int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users: map[uint]*models.User{
			7: {ID: 7, Name: "Mei", Email: "mei@example.com"},
			8: {ID: 8, Name: "Other", Email: "other@example.com"},
		},
		projects: map[uint]*models.Project{
			1: {ID: 1, Title: "Forest project", Goal: 100000},
		},
		plans: map[uint]*models.Plan{
			11: {ID: 11, ProjectID: 1, Name: "Early bird", Amount: 500},
			12: {ID: 12, ProjectID: 1, Name: "Tote bag", Amount: 800, Shippable: true},
		},
	}
}

func (d *memDirectory) FindUser(ctx context.Context, id uint) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (d *memDirectory) FindProject(ctx context.Context, id uint) (*models.Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	c := *p
	return &c, nil
}

func (d *memDirectory) FindPlan(ctx context.Context, id uint) (*models.Plan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	c := *p
	return &c, nil
}

func (d *memDirectory) IncrementProjectTotal(ctx context.Context, projectID uint, amount int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.totalErr != nil {
		return d.totalErr
	}
	p, ok := d.projects[projectID]
	if !ok {
		return ErrProjectNotFound
	}
	p.Amount += amount
	d.bumps++
	return nil
}

func (d *memDirectory) projectTotal(id uint) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projects[id].Amount
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *memNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type published struct {
	Topic   string
	Payload types.JSONB
}

type memPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *memPublisher) Name() string { return "memory" }

func (p *memPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Topic: topic, Payload: payload})
	return nil
}

func (p *memPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

type memCache struct {
	mu     sync.Mutex
	status map[string]string
	urls   map[string]string
}

func newMemCache() *memCache {
	return &memCache{status: map[string]string{}, urls: map[string]string{}}
}

func (c *memCache) GetStatus(ctx context.Context, orderUUID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.status[orderUUID]
	return v, ok
}

func (c *memCache) SetStatus(ctx context.Context, orderUUID string, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[orderUUID] = status
}

func (c *memCache) GetPaymentURL(ctx context.Context, orderUUID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.urls[orderUUID]
	return v, ok
}

func (c *memCache) SetPaymentURL(ctx context.Context, orderUUID string, url string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[orderUUID] = url
}

func (c *memCache) ForgetPaymentURL(ctx context.Context, orderUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.urls, orderUUID)
}
