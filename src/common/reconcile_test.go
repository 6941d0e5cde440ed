package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"lovia/src/config"
	"lovia/src/lib"
	"lovia/src/models"
	"lovia/src/types"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
)

const (
	testMerchantID    = "3002607"
	testHashKey       = "pwFHCqoQZGmho4w6"
	testHashIV        = "EkRm7iFT261dpevs"
	testTransactionID = "2024050100000012345"
	testPaymentURL    = "https://sandbox-web-pay.line.me/web/payment/wait?transactionReserveId=abc"
)

type PaymentsTestSuite struct {
	suite.Suite
	ctx      context.Context
	ledger   *memLedger
	dir      *memDirectory
	mail     *memNotifier
	bus      *memPublisher
	cache    *memCache
	payments *Payments

	linePay       *httptest.Server
	reserveCalls  atomic.Int32
	confirmCalls  atomic.Int32
	confirmAmount atomic.Int64
	linePayStatus atomic.Int32
	reservedOrder atomic.Value
}

func TestPaymentsTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentsTestSuite))
}

func (s *PaymentsTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = newMemLedger()
	s.dir = newMemDirectory()
	s.mail = &memNotifier{}
	s.bus = &memPublisher{}
	s.cache = newMemCache()
	s.reserveCalls.Store(0)
	s.confirmCalls.Store(0)
	s.confirmAmount.Store(500)
	s.linePayStatus.Store(http.StatusOK)
	s.reservedOrder.Store("")
	s.linePay = httptest.NewServer(http.HandlerFunc(s.serveLinePay))

	ecpay := lib.NewECPay(config.ECPayConfig{
		MerchantID:     testMerchantID,
		HashKey:        testHashKey,
		HashIV:         testHashIV,
		CheckoutURL:    config.DefaultECPayCheckoutURL,
		ReturnURL:      "https://api.example.com/api/v1/webhooks/ecpay/callback",
		PaymentInfoURL: "https://api.example.com/api/v1/webhooks/ecpay/atm",
		ATMExpireDays:  3,
	})
	linePay := lib.NewLinePay(config.LinePayConfig{
		ChannelID:     "1656405180",
		ChannelSecret: "channelsecret",
		BaseURL:       s.linePay.URL,
		ConfirmURL:    "https://api.example.com/api/v1/orders/linepay/confirm",
		CancelURL:     "https://api.example.com/api/v1/orders/linepay/cancel",
		Currency:      "TWD",
	}, 2*time.Second)

	s.payments = NewPayments(PaymentsOptions{
		Ledger:         s.ledger,
		Directory:      s.dir,
		Gateways:       lib.NewGateways(ecpay, linePay),
		Dispatcher:     NewDispatcher(s.dir, s.dir, s.mail, s.bus, 2*time.Second),
		Publisher:      s.bus,
		Cache:          s.cache,
		PendingTimeout: 30 * time.Minute,
	})
}

func (s *PaymentsTestSuite) TearDownTest() {
	s.linePay.Close()
}

func (s *PaymentsTestSuite) serveLinePay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if code := int(s.linePayStatus.Load()); code != http.StatusOK {
		w.WriteHeader(code)
		return
	}
	if r.URL.Path == "/v3/payments/request" {
		body, _ := io.ReadAll(r.Body)
		s.reservedOrder.Store(gjson.GetBytes(body, "orderId").String())
		s.reserveCalls.Add(1)
		fmt.Fprintf(w, `{"returnCode":"0000","returnMessage":"Success.","info":{"paymentUrl":{"web":%q},"transactionId":%s}}`, testPaymentURL, testTransactionID)
		return
	}
	if r.URL.Path == "/v3/payments/"+testTransactionID+"/confirm" {
		s.confirmCalls.Add(1)
		fmt.Fprintf(w, `{"returnCode":"0000","returnMessage":"Success.","info":{"orderId":%q,"transactionId":%s,"payInfo":[{"method":"BALANCE","amount":%d}]}}`, s.reservedOrder.Load(), testTransactionID, s.confirmAmount.Load())
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *PaymentsTestSuite) checkout(invoice *types.InvoiceRequestBody) *models.Order {
	order, err := s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{
		ProjectID: 1,
		PlanID:    11,
		Invoice:   invoice,
	})
	s.Require().NoError(err)
	return order
}

func paidParams(order *models.Order, amount int64) map[string]string {
	return map[string]string{
		"MerchantID":      testMerchantID,
		"MerchantTradeNo": lib.TradeNo(order.OrderUUID, 1),
		"RtnCode":         "1",
		"RtnMsg":          "Succeeded",
		"TradeNo":         "2405011230001234",
		"TradeAmt":        strconv.FormatInt(amount, 10),
		"PaymentDate":     "2024/05/01 12:35:10",
		"PaymentType":     "Credit_CreditCard",
		"TradeDate":       "2024/05/01 12:30:00",
		"SimulatePaid":    "0",
		"CustomField1":    order.OrderUUID.String(),
		"CustomField2":    lib.TradeNo(order.OrderUUID, 1),
		"CustomField3":    "7",
	}
}

func (s *PaymentsTestSuite) signed(params map[string]string) []byte {
	mac, err := lib.CheckMacValue(params, testHashKey, testHashIV)
	s.Require().NoError(err)
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("CheckMacValue", mac)
	return []byte(values.Encode())
}

func (s *PaymentsTestSuite) TestCardRedirectCarriesVerifiableMac() {
	order := s.checkout(nil)
	s.Equal(int64(500), order.Amount)

	art, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "card")
	s.Require().NoError(err)
	s.Equal(lib.GatewayECPay, art.Gateway)
	s.Equal(lib.MethodCredit, art.Method)
	s.Equal("500", art.Params["TotalAmount"])
	s.Equal("Credit", art.Params["ChoosePayment"])
	s.Equal(order.OrderUUID.String(), art.Params["CustomField1"])
	s.Equal(lib.TradeNo(order.OrderUUID, 1), art.Params["MerchantTradeNo"])
	s.Equal("Forest project Early bird x1", art.Params["ItemName"])

	params := map[string]string{}
	for k, v := range art.Params {
		if k != "CheckMacValue" {
			params[k] = v
		}
	}
	s.True(lib.VerifyCheckMacValue(art.Params["CheckMacValue"], params, testHashKey, testHashIV))
	s.Contains(art.HTML, `action="`+config.DefaultECPayCheckoutURL+`"`)
}

func (s *PaymentsTestSuite) TestRetriedRequestsUseNewTradeNumbersForSameOrder() {
	order := s.checkout(nil)
	first, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "credit")
	s.Require().NoError(err)
	second, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "atm")
	s.Require().NoError(err)

	s.NotEqual(first.TradeNo, second.TradeNo)
	s.Equal(first.Params["CustomField1"], second.Params["CustomField1"])
	s.Equal("3", second.Params["ExpireDate"])
	s.Equal("https://api.example.com/api/v1/webhooks/ecpay/atm", second.Params["PaymentInfoURL"])
}

func (s *PaymentsTestSuite) TestRequestPaymentRejections() {
	order := s.checkout(nil)

	_, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "bitcoin")
	s.ErrorIs(err, lib.ErrUnsupportedMethod)
	stored, _ := s.ledger.FindOrder(s.ctx, order.OrderUUID)
	s.Zero(stored.PaymentAttempts)

	_, err = s.payments.RequestPayment(s.ctx, 8, order.OrderUUID, "card")
	s.ErrorIs(err, ErrForbidden)

	_, err = s.payments.RequestPayment(s.ctx, 7, uuid.New(), "card")
	s.ErrorIs(err, ErrOrderNotFound)

	s.ledger.setStatus(order.OrderUUID, types.ORDER_CANCELLED)
	_, err = s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "card")
	s.ErrorIs(err, ErrOrderNotPending)
}

func (s *PaymentsTestSuite) TestValidCallbackMarksPaid() {
	order := s.checkout(nil)

	ack := s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 500)))

	s.Equal(lib.AckOK, ack)
	stored, err := s.ledger.FindOrder(s.ctx, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PAID, stored.Status)
	s.Equal("2405011230001234", *stored.GatewayTransactionID)
	s.Equal("credit", *stored.PaymentMethod)
	s.Equal(int64(500), s.dir.projectTotal(1))
	s.Equal(1, s.mail.count())
	s.Equal("mei@example.com", s.mail.sent[0].To)
	s.Contains(s.bus.topics(), lib.TopicPaymentPaid)
	s.NotContains(string(stored.RawGatewayResult), testHashKey)
}

func (s *PaymentsTestSuite) TestDuplicateCallbackIsIdempotent() {
	order := s.checkout(nil)
	body := s.signed(paidParams(order, 500))

	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, body))
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, body))

	s.Equal(types.ORDER_PAID, s.ledger.status(order.OrderUUID))
	s.Equal(int64(500), s.dir.projectTotal(1))
	s.Equal(1, s.dir.bumps)
	s.Equal(1, s.mail.count())
}

func (s *PaymentsTestSuite) TestConcurrentDuplicateCallbacksDispatchOnce() {
	order := s.checkout(nil)
	body := s.signed(paidParams(order, 500))

	var wg sync.WaitGroup
	acks := make([]lib.Ack, 10)
	for i := range acks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acks[i] = s.payments.HandleCardCallback(s.ctx, body)
		}(i)
	}
	wg.Wait()

	for _, ack := range acks {
		s.Equal(lib.AckOK, ack)
	}
	s.Equal(1, s.dir.bumps)
	s.Equal(1, s.mail.count())
}

func (s *PaymentsTestSuite) TestTamperedAmountIsRejected() {
	order := s.checkout(nil)

	ack := s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 1)))

	s.Equal(lib.AckAmountMismatch, ack)
	s.Equal(types.ORDER_PENDING, s.ledger.status(order.OrderUUID))
	s.Zero(s.dir.projectTotal(1))
	s.Zero(s.mail.count())
	s.Require().Len(s.ledger.alerts, 1)
	s.Equal(AlertAmountMismatch, s.ledger.alerts[0].Reason)
}

func (s *PaymentsTestSuite) TestBadSignatureTouchesNothing() {
	order := s.checkout(nil)
	body := strings.Replace(string(s.signed(paidParams(order, 500))), "TradeAmt=500", "TradeAmt=5", 1)

	s.Equal(lib.AckCheckMacError, s.payments.HandleCardCallback(s.ctx, []byte(body)))
	s.Equal(types.ORDER_PENDING, s.ledger.status(order.OrderUUID))
	s.Empty(s.ledger.alerts)

	s.Equal(lib.AckFail, s.payments.HandleCardCallback(s.ctx, []byte("%zz")))
}

func (s *PaymentsTestSuite) TestUnknownOrderAndGatewayFailure() {
	order := s.checkout(nil)

	unknown := paidParams(order, 500)
	unknown["CustomField1"] = uuid.NewString()
	s.Equal(lib.AckNotFound, s.payments.HandleCardCallback(s.ctx, s.signed(unknown)))

	failed := paidParams(order, 500)
	failed["RtnCode"] = "10100058"
	failed["RtnMsg"] = "Card declined"
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(failed)))
	s.Equal(types.ORDER_PENDING, s.ledger.status(order.OrderUUID))
}

func (s *PaymentsTestSuite) TestPaidCallbackForCancelledOrderRaisesAlert() {
	order := s.checkout(nil)
	s.ledger.setStatus(order.OrderUUID, types.ORDER_CANCELLED)

	ack := s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 500)))

	s.Equal(lib.AckOK, ack)
	s.Equal(types.ORDER_CANCELLED, s.ledger.status(order.OrderUUID))
	s.Require().Len(s.ledger.alerts, 1)
	s.Equal(AlertCancelledOrderPaid, s.ledger.alerts[0].Reason)
	s.Equal("2405011230001234", s.ledger.alerts[0].TransactionID)
	s.Contains(s.bus.topics(), lib.TopicPaymentAlert)
	s.Zero(s.dir.bumps)
	s.Zero(s.mail.count())
}

func (s *PaymentsTestSuite) TestUnrecordedAlertIsNotAcknowledged() {
	order := s.checkout(nil)
	s.ledger.setStatus(order.OrderUUID, types.ORDER_CANCELLED)
	s.ledger.alertErr = errors.New("connection reset")

	s.Equal(lib.AckConflict, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 500))))
	s.Equal(types.ORDER_CANCELLED, s.ledger.status(order.OrderUUID))
}

func (s *PaymentsTestSuite) TestReceiptMailFollowsInvoiceType() {
	paper := s.checkout(&types.InvoiceRequestBody{Type: types.INVOICE_PAPER, TaxID: "12345675", Title: "Lovia Ltd."})
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(paper, 500))))
	s.Equal(2, s.mail.count())

	var receipt *sentMail
	for i := range s.mail.sent {
		if strings.Contains(s.mail.sent[i].Subject, "Receipt") {
			receipt = &s.mail.sent[i]
		}
	}
	s.Require().NotNil(receipt)
	s.Contains(receipt.Subject, "LV-000001")
	s.Contains(receipt.Body, "12345675")

	donate := s.checkout(&types.InvoiceRequestBody{Type: types.INVOICE_DONATE})
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(donate, 500))))
	s.Equal(3, s.mail.count())
}

func (s *PaymentsTestSuite) TestSideEffectFailuresDoNotUndoPayment() {
	order := s.checkout(nil)
	s.dir.totalErr = errors.New("deadlock detected")

	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 500))))
	s.Equal(types.ORDER_PAID, s.ledger.status(order.OrderUUID))
	s.Equal(1, s.mail.count())

	other := s.checkout(nil)
	s.dir.totalErr = nil
	s.mail.err = errors.New("smtp: 421 try later")
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(other, 500))))
	s.Equal(types.ORDER_PAID, s.ledger.status(other.OrderUUID))
	s.Equal(int64(500), s.dir.projectTotal(1))
}

func (s *PaymentsTestSuite) TestATMPaymentInfoIsRecorded() {
	order := s.checkout(nil)
	params := map[string]string{
		"MerchantID":      testMerchantID,
		"MerchantTradeNo": lib.TradeNo(order.OrderUUID, 1),
		"RtnCode":         "2",
		"RtnMsg":          "Get VirtualAccount Succeeded",
		"TradeNo":         "2405011230005678",
		"TradeAmt":        "500",
		"PaymentType":     "ATM_TAISHIN",
		"BankCode":        "812",
		"vAccount":        "9103522175887271",
		"ExpireDate":      "2024/05/04",
		"CustomField1":    order.OrderUUID.String(),
	}

	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(params)))

	stored, err := s.ledger.FindOrder(s.ctx, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PENDING, stored.Status)
	s.Equal("9103522175887271", *stored.AtmPaymentNo)
	s.Equal("812", *stored.AtmBankCode)
	s.Equal("2024/05/04", *stored.AtmExpireDate)

	result, err := s.payments.PaymentResult(s.ctx, 7, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PENDING, result.Status)
	s.Equal(int64(500), result.Amount)
	s.Equal("812", result.AtmBankCode)
	s.Equal("9103522175887271", result.AtmPaymentNo)
	s.Equal("2024/05/04", result.AtmExpireDate)

	_, err = s.payments.PaymentResult(s.ctx, 8, order.OrderUUID)
	s.ErrorIs(err, ErrForbidden)
	_, err = s.payments.PaymentResult(s.ctx, 7, uuid.New())
	s.ErrorIs(err, ErrOrderNotFound)
}

func (s *PaymentsTestSuite) TestPaymentResultCarriesShippingAndInvoice() {
	order, err := s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{
		ProjectID: 1,
		PlanID:    12,
		Shipping:  &types.ShippingRequestBody{Name: "Chen Mei", Phone: "0912345678", Address: "No. 1, Sec. 5, Xinyi Rd, Taipei"},
		Invoice:   &types.InvoiceRequestBody{Type: types.INVOICE_MOBILE, CarrierCode: "/abc1234"},
	})
	s.Require().NoError(err)
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 800))))

	result, err := s.payments.PaymentResult(s.ctx, 7, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PAID, result.Status)
	s.NotNil(result.PaidAt)
	s.NotEmpty(result.PaymentMethod)
	s.Equal("Chen Mei", result.Recipient)
	s.Equal("0912345678", result.Phone)
	s.Equal(types.INVOICE_MOBILE, result.InvoiceType)
	s.Equal("/ABC1234", result.CarrierCode)
	s.Empty(result.AtmPaymentNo)
}

func (s *PaymentsTestSuite) TestSweepCancelsExpiredPendingOnce() {
	order := s.checkout(nil)
	fresh := s.checkout(nil)
	s.ledger.age(order.OrderUUID, 31*time.Minute)

	n, err := s.payments.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	s.Equal(types.ORDER_CANCELLED, s.ledger.status(order.OrderUUID))
	s.Equal(types.ORDER_PENDING, s.ledger.status(fresh.OrderUUID))

	n, err = s.payments.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PaymentsTestSuite) TestSweepNeverCancelsPaidOrder() {
	order := s.checkout(nil)
	s.ledger.age(order.OrderUUID, 2*time.Hour)
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 500))))

	n, err := s.payments.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(types.ORDER_PAID, s.ledger.status(order.OrderUUID))
}

func (s *PaymentsTestSuite) TestSweepRacingCallbackKeepsOneTerminalState() {
	for i := 0; i < 20; i++ {
		order := s.checkout(nil)
		s.ledger.age(order.OrderUUID, time.Hour)
		body := s.signed(paidParams(order, 500))

		var wg sync.WaitGroup
		var ack lib.Ack
		wg.Add(2)
		go func() {
			defer wg.Done()
			ack = s.payments.HandleCardCallback(s.ctx, body)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.payments.SweepExpired(s.ctx)
		}()
		wg.Wait()

		s.Equal(lib.AckOK, ack)
		switch s.ledger.status(order.OrderUUID) {
		case types.ORDER_PAID:
		case types.ORDER_CANCELLED:
			s.NotEmpty(s.ledger.alerts)
		default:
			s.Fail("order left pending")
		}
	}
}

func (s *PaymentsTestSuite) TestLinePayReserveAndConfirm() {
	order := s.checkout(nil)

	art, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "line_pay")
	s.Require().NoError(err)
	s.Equal(testPaymentURL, art.RedirectURL)
	s.Equal(testTransactionID, art.TransactionID)

	again, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "linepay")
	s.Require().NoError(err)
	s.Equal(testPaymentURL, again.RedirectURL)
	s.Equal(int32(1), s.reserveCalls.Load())

	paymentURL, err := s.payments.PaymentURL(s.ctx, 7, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(testPaymentURL, paymentURL)

	query := []byte("transactionId=" + testTransactionID + "&orderId=" + order.OrderUUID.String())
	paid, err := s.payments.ConfirmWalletReturn(s.ctx, query)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PAID, paid.Status)
	s.Equal("LINE Pay BALANCE", *paid.PaymentMethod)
	s.Equal(testTransactionID, *paid.GatewayTransactionID)
	s.Equal(int64(500), s.dir.projectTotal(1))

	_, err = s.payments.PaymentURL(s.ctx, 7, order.OrderUUID)
	s.ErrorIs(err, ErrOrderNotPending)

	_, err = s.payments.ConfirmWalletReturn(s.ctx, query)
	s.Require().NoError(err)
	s.Equal(int32(1), s.confirmCalls.Load())
	s.Equal(1, s.mail.count())
}

func (s *PaymentsTestSuite) reserve(order *models.Order) []byte {
	_, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "linepay")
	s.Require().NoError(err)
	return []byte("transactionId=" + testTransactionID + "&orderId=" + order.OrderUUID.String())
}

func (s *PaymentsTestSuite) TestLinePayConfirmAmountMismatch() {
	order := s.checkout(nil)
	query := s.reserve(order)
	s.confirmAmount.Store(400)

	_, err := s.payments.ConfirmWalletReturn(s.ctx, query)
	s.ErrorIs(err, ErrAmountMismatch)
	s.Equal(types.ORDER_PENDING, s.ledger.status(order.OrderUUID))
	s.Zero(s.dir.bumps)
}

func (s *PaymentsTestSuite) TestLinePayUnavailableFailsClosed() {
	order := s.checkout(nil)
	s.linePayStatus.Store(http.StatusServiceUnavailable)

	_, err := s.payments.RequestPayment(s.ctx, 7, order.OrderUUID, "linepay")
	s.ErrorIs(err, lib.ErrGatewayUnavailable)
	s.Nil(s.ledger.reservation(order.OrderUUID))

	s.linePayStatus.Store(http.StatusOK)
	query := s.reserve(order)
	s.linePayStatus.Store(http.StatusServiceUnavailable)
	_, err = s.payments.ConfirmWalletReturn(s.ctx, query)
	s.ErrorIs(err, lib.ErrGatewayUnavailable)
	s.Equal(types.ORDER_PENDING, s.ledger.status(order.OrderUUID))
}

func (s *PaymentsTestSuite) TestLinePayReturnForCancelledOrder() {
	order := s.checkout(nil)
	query := s.reserve(order)
	s.ledger.setStatus(order.OrderUUID, types.ORDER_CANCELLED)

	_, err := s.payments.ConfirmWalletReturn(s.ctx, query)
	s.ErrorIs(err, ErrOrderNotPending)
	s.Zero(s.confirmCalls.Load())
}

func (s *PaymentsTestSuite) TestLinePayTransactionCannotPayAnotherOrder() {
	reserved := s.checkout(nil)
	other := s.checkout(nil)
	s.reserve(reserved)

	query := []byte("transactionId=" + testTransactionID + "&orderId=" + other.OrderUUID.String())
	_, err := s.payments.ConfirmWalletReturn(s.ctx, query)
	s.ErrorIs(err, lib.ErrGatewayRejected)
	s.Zero(s.confirmCalls.Load())
	s.Equal(types.ORDER_PENDING, s.ledger.status(other.OrderUUID))
	s.Equal(types.ORDER_PENDING, s.ledger.status(reserved.OrderUUID))
	s.Zero(s.dir.bumps)
	s.Zero(s.mail.count())

	// A stale reservation on the other order does not help either.
	s.Require().NoError(s.ledger.RecordReservation(s.ctx, other.OrderUUID, "2024050100000099999"))
	_, err = s.payments.ConfirmWalletReturn(s.ctx, query)
	s.ErrorIs(err, lib.ErrGatewayRejected)
	s.Zero(s.confirmCalls.Load())
	s.Equal(types.ORDER_PENDING, s.ledger.status(other.OrderUUID))
}

func (s *PaymentsTestSuite) TestLinePayConfirmReplyForOtherOrderIsRejected() {
	reserved := s.checkout(nil)
	other := s.checkout(nil)
	s.reserve(reserved)
	// The other order claims the same transaction id in the ledger.
	s.Require().NoError(s.ledger.RecordReservation(s.ctx, other.OrderUUID, testTransactionID))

	query := []byte("transactionId=" + testTransactionID + "&orderId=" + other.OrderUUID.String())
	_, err := s.payments.ConfirmWalletReturn(s.ctx, query)
	s.ErrorIs(err, lib.ErrGatewayRejected)
	s.Equal(int32(1), s.confirmCalls.Load())
	s.Equal(types.ORDER_PENDING, s.ledger.status(other.OrderUUID))
	s.Zero(s.dir.bumps)
}

func (s *PaymentsTestSuite) TestOrderStatusCachesTerminalOnly() {
	order := s.checkout(nil)
	key := order.OrderUUID.String()

	res, err := s.payments.GetOrderStatus(s.ctx, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PENDING, res.Status)
	_, cached := s.cache.GetStatus(s.ctx, key)
	s.False(cached)

	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(order, 500))))
	_, cached = s.cache.GetStatus(s.ctx, key)
	s.True(cached)

	res, err = s.payments.GetOrderStatus(s.ctx, order.OrderUUID)
	s.Require().NoError(err)
	s.Equal(types.ORDER_PAID, res.Status)
	s.Equal("credit", res.Method)
	s.NotNil(res.PaidAt)

	_, err = s.payments.GetOrderStatus(s.ctx, uuid.New())
	s.ErrorIs(err, ErrOrderNotFound)
}

func (s *PaymentsTestSuite) TestCheckoutValidation() {
	_, err := s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{ProjectID: 2, PlanID: 11})
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("plan_id", verr.Field)

	_, err = s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{ProjectID: 1, PlanID: 12})
	s.Require().ErrorAs(err, &verr)
	s.Equal("shipping", verr.Field)

	_, err = s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{
		ProjectID: 1,
		PlanID:    11,
		Invoice:   &types.InvoiceRequestBody{Type: types.INVOICE_MOBILE},
	})
	s.Require().ErrorAs(err, &verr)
	s.Equal("invoice", verr.Field)

	_, err = s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{ProjectID: 1, PlanID: 99})
	s.ErrorIs(err, ErrPlanNotFound)

	order, err := s.payments.Checkout(s.ctx, 7, &types.CheckoutRequestBody{
		ProjectID: 1,
		PlanID:    12,
		Quantity:  3,
		Shipping:  &types.ShippingRequestBody{Name: "Mei", Phone: "0912345678", Address: "Taipei"},
		Invoice:   &types.InvoiceRequestBody{Type: types.INVOICE_MOBILE, CarrierCode: "/abc1234"},
	})
	s.Require().NoError(err)
	s.Equal(int64(2400), order.Amount)
	s.Equal(types.ORDER_PENDING, order.Status)
	s.Equal("/ABC1234", *order.Invoice.CarrierCode)
	s.NotNil(order.Shipping)
}

func (s *PaymentsTestSuite) TestListMine() {
	first := s.checkout(nil)
	second := s.checkout(nil)
	s.checkout(nil)
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(first, 500))))
	s.Equal(lib.AckOK, s.payments.HandleCardCallback(s.ctx, s.signed(paidParams(second, 500))))

	orders, total, err := s.payments.ListMine(s.ctx, 7, 1, 10)
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(orders, 2)
	for _, o := range orders {
		s.Equal(types.ORDER_PAID, o.Status)
		s.Equal("credit", o.PaymentMethod)
	}

	orders, total, err = s.payments.ListMine(s.ctx, 8, 1, 10)
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(orders)
}
