package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successBody(checkoutID, receipt string) []byte {
	items := `{"Name":"Amount","Value":1300},{"Name":"TransactionDate","Value":20260301100405},{"Name":"PhoneNumber","Value":254712345678},{"Name":"FirstName","Value":"JANE"},{"Name":"LastName","Value":"WANJIRU"}`
	if receipt != "" {
		items += fmt.Sprintf(`,{"Name":"MpesaReceiptNumber","Value":%q}`, receipt)
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[%s]}}}}`, checkoutID, items))
}

func failureBody(checkoutID string, code int) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"Request cancelled by user"}}}`, checkoutID, code))
}

func TestHandleCallback_Success(t *testing.T) {
	h := newHarness(t)
	order, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	code, err := h.engine.HandleCallback(context.Background(), p.ID, successBody("ws_CO_1", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusSuccess, got.Status)
	assert.Equal(t, "NLJ7RT61SV", got.Ref())
	assert.Equal(t, []domain.MetaEventKind{domain.EventCallbackReceived, domain.EventStatusChanged}, eventKinds(got))
	require.NotNil(t, got.Meta.Mpesa.Payer)
	assert.Equal(t, "JANE WANJIRU", got.Meta.Mpesa.Payer.FullName())
	assert.NotEmpty(t, got.Meta.Mpesa.Events[0].Raw)
	assert.Equal(t, domain.RefFromReceipt, got.Meta.Mpesa.Events[1].RefSource)

	assert.Equal(t, domain.OrderStatusConfirmed, h.order(t, order.ID).Status)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, h.events.confirmed)

	rc, err := h.store.GetReceiptByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NameFromMpesaCallback, rc.Payer.Source)
	assert.Equal(t, "JANE WANJIRU", rc.Payer.Name)
	assert.Equal(t, "NLJ7RT61SV", rc.Meta.TransactionRef)
}

func TestHandleCallback_ReplayIsNoop(t *testing.T) {
	h := newHarness(t)
	_, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")
	body := successBody("ws_CO_1", "NLJ7RT61SV")

	for i := 0; i < 2; i++ {
		code, err := h.engine.HandleCallback(context.Background(), p.ID, body)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	}

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusSuccess, got.Status)
	assert.Len(t, got.Meta.Mpesa.Events, 2)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, h.events.confirmed)
	assert.Equal(t, 1, h.store.ReceiptCount())
}

func TestHandleCallback_LateFailureNeverDowngrades(t *testing.T) {
	h := newHarness(t)
	order, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	_, err := h.engine.HandleCallback(context.Background(), p.ID, successBody("ws_CO_1", "NLJ7RT61SV"))
	require.NoError(t, err)

	code, err := h.engine.HandleCallback(context.Background(), p.ID, failureBody("ws_CO_1", 1032))
	require.NoError(t, err)
	assert.Equal(t, 1032, code)

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusSuccess, got.Status)
	assert.Equal(t, "NLJ7RT61SV", got.Ref())
	assert.Equal(t, domain.OrderStatusConfirmed, h.order(t, order.ID).Status)
	assert.Equal(t, 0, h.events.failed)
}

func TestHandleCallback_Failure(t *testing.T) {
	h := newHarness(t)
	order, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	code, err := h.engine.HandleCallback(context.Background(), p.ID, failureBody("ws_CO_1", 1032))
	require.NoError(t, err)
	assert.Equal(t, 1032, code)

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusFailed, got.Status)
	assert.Equal(t, "ws_CO_1", got.Ref())
	assert.Equal(t, 1032, *got.Meta.Mpesa.LastResultCode)
	assert.Equal(t, domain.OrderStatusPendingPayment, h.order(t, order.ID).Status)
	assert.Equal(t, 0, h.notifier.count())
	// a failing broker must not surface
	assert.Equal(t, 1, h.events.failed)
	assert.Equal(t, 0, h.store.ReceiptCount())
}

func TestHandleCallback_FailedThenProvenPaid(t *testing.T) {
	h := newHarness(t)
	order, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	_, err := h.engine.HandleCallback(context.Background(), p.ID, failureBody("ws_CO_1", 1037))
	require.NoError(t, err)
	_, err = h.engine.HandleCallback(context.Background(), p.ID, successBody("ws_CO_1", "LATE0001"))
	require.NoError(t, err)

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusSuccess, got.Status)
	assert.Equal(t, "LATE0001", got.Ref())
	assert.Equal(t, domain.OrderStatusConfirmed, h.order(t, order.ID).Status)
	assert.Equal(t, 1, h.notifier.count())
}

func TestHandleCallback_SuccessWithoutReceiptFallsBackToSession(t *testing.T) {
	h := newHarness(t)
	_, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	_, err := h.engine.HandleCallback(context.Background(), p.ID, successBody("ws_CO_1", ""))
	require.NoError(t, err)

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusSuccess, got.Status)
	assert.Equal(t, "ws_CO_1", got.Ref())
	ev, ok := got.Meta.Mpesa.LastEvent(domain.EventStatusChanged)
	require.True(t, ok)
	assert.Equal(t, domain.RefFromCheckoutRequest, ev.RefSource)
}

func TestHandleCallback_UnknownPayment(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.HandleCallback(context.Background(), uuid.New(), successBody("ws_CO_1", "X"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleCallback_MalformedEnvelope(t *testing.T) {
	h := newHarness(t)
	_, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	_, err := h.engine.HandleCallback(context.Background(), p.ID, []byte(`{"Body":{}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)
	assert.ErrorIs(t, err, domain.ErrValidation)

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusPending, got.Status)
	assert.Empty(t, got.Meta.Mpesa.Events)
}

func TestHandleCallback_NotifierFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = fmt.Errorf("smtp down")
	_, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")

	_, err := h.engine.HandleCallback(context.Background(), p.ID, successBody("ws_CO_1", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, h.payment(t, p.ID).Status)
	assert.Equal(t, 1, h.store.ReceiptCount())
}

func TestCallbackAndPollRace_SingleTransition(t *testing.T) {
	h := newHarness(t)
	order, p := h.seed(t, "user-1", domain.PaymentStatusPending, "ws_CO_1")
	h.gateway.queryRes = &mpesa.STKQueryResult{CheckoutRequestID: "ws_CO_1", ResultCode: intPtr(0), ReceiptNumber: "NLJ7RT61SV"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.engine.HandleCallback(context.Background(), p.ID, successBody("ws_CO_1", "NLJ7RT61SV"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.engine.ReconcilePayment(context.Background(), p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := h.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusSuccess, got.Status)

	changes := 0
	for _, e := range got.Meta.Mpesa.Events {
		if e.Kind == domain.EventStatusChanged {
			changes++
		}
	}
	assert.Equal(t, 1, changes)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, h.store.ReceiptCount())
	assert.Equal(t, domain.OrderStatusConfirmed, h.order(t, order.ID).Status)
}
