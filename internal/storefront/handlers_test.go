package storefront

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type snapshotBody struct {
	Seq         uint64          `json:"seq"`
	Phase       string          `json:"phase"`
	State       json.RawMessage `json:"state"`
	Deliverable string          `json:"deliverable"`
}

type sessionBody struct {
	Data struct {
		SessionID string       `json:"sessionId"`
		Polling   bool         `json:"polling"`
		Snapshot  snapshotBody `json:"snapshot"`
	} `json:"data"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) sessionBody {
	t.Helper()
	var body sessionBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func openSession(t *testing.T, f *fixture, productID int) string {
	t.Helper()
	rr := f.do(http.MethodPost, "/api/v1/checkout/sessions", `{"productId":`+strconv.Itoa(productID)+`}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeSession(t, rr)
	require.NotEmpty(t, body.Data.SessionID)
	require.Equal(t, "form", body.Data.Snapshot.Phase)
	return body.Data.SessionID
}

func TestOpenSessionLocationUsesPublicBaseURL(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	rr := f.do(http.MethodPost, "/api/v1/checkout/sessions", `{"productId":1}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeSession(t, rr).Data.SessionID
	require.Equal(t, "/api/v1/checkout/sessions/"+id, rr.Header().Get("Location"))

	f = newFixture(t, fixtureOptions{baseURL: "https://shop.example/"})
	rr = f.do(http.MethodPost, "/api/v1/checkout/sessions", `{"productId":1}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	id = decodeSession(t, rr).Data.SessionID
	require.Equal(t, "https://shop.example/api/v1/checkout/sessions/"+id, rr.Header().Get("Location"))
}

func TestOpenSessionUnknownProduct(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	rr := f.do(http.MethodPost, "/api/v1/checkout/sessions", `{"productId":999}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "PRODUCT_NOT_FOUND", decodeError(t, rr).Error.Code)
	require.Zero(t, f.store.Len())
}

func TestCheckoutFlowReachesSuccessAndSchedulesDelivery(t *testing.T) {
	f := newFixture(t, fixtureOptions{querier: &paidAfter{n: 1}})
	id := openSession(t, f, 1)
	base := "/api/v1/checkout/sessions/" + id

	rr := f.do(http.MethodPost, base+"/submit", `{"name":"Budi","email":"budi@example.com","amount":1}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeSession(t, rr)
	require.Equal(t, "qr", body.Data.Snapshot.Phase)
	require.Equal(t, 1, f.gw.count())

	var qrState struct {
		MerchantOrderID string `json:"merchantOrderId"`
		Amount          int64  `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body.Data.Snapshot.State, &qrState))
	require.Equal(t, int64(75000), qrState.Amount)
	require.True(t, strings.HasPrefix(qrState.MerchantOrderID, "ORDER-"))

	require.Eventually(t, func() bool {
		return decodeSession(t, f.do(http.MethodGet, base, "")).Data.Snapshot.Phase == "success"
	}, waitFor, tick)

	final := decodeSession(t, f.do(http.MethodGet, base, ""))
	require.False(t, final.Data.Polling)
	require.Contains(t, final.Data.Snapshot.Deliverable, "Link Download")

	require.Eventually(t, func() bool { return len(f.scheduler.sent()) == 1 }, waitFor, tick)
	delivery := f.scheduler.sent()[0]
	require.Equal(t, qrState.MerchantOrderID, delivery.MerchantOrderID)
	require.Equal(t, "budi@example.com", delivery.Email)
	require.Equal(t, int64(75000), delivery.Amount)

	rr = f.do(http.MethodPost, base+"/done", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "form", decodeSession(t, rr).Data.Snapshot.Phase)
}

func TestQRCodeRendersOnlyWhileShowingChallenge(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := openSession(t, f, 1)
	base := "/api/v1/checkout/sessions/" + id

	rr := f.do(http.MethodGet, base+"/qr.png", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "NO_ACTIVE_CHALLENGE", decodeError(t, rr).Error.Code)

	rr = f.do(http.MethodPost, base+"/submit", `{"name":"Budi","email":"budi@example.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, base+"/qr.png", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	img, err := png.Decode(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
}

func TestSubmitValidationFailureStaysInForm(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := openSession(t, f, 1)
	base := "/api/v1/checkout/sessions/" + id

	rr := f.do(http.MethodPost, base+"/submit", `{"name":"Budi"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", decodeError(t, rr).Error.Code)
	require.Zero(t, f.gw.count())

	state := decodeSession(t, f.do(http.MethodGet, base, ""))
	require.Equal(t, "form", state.Data.Snapshot.Phase)
	require.False(t, state.Data.Polling)
}

func TestSubmitGatewayFailureKeepsFields(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.gw.err = errGatewayDown
	id := openSession(t, f, 1)
	base := "/api/v1/checkout/sessions/" + id

	rr := f.do(http.MethodPost, base+"/submit", `{"name":"Budi","email":"budi@example.com"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "PAYMENT_CREATE_FAILED", decodeError(t, rr).Error.Code)

	state := decodeSession(t, f.do(http.MethodGet, base, ""))
	require.Equal(t, "form", state.Data.Snapshot.Phase)
	var form struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(state.Data.Snapshot.State, &form))
	require.Equal(t, "Budi", form.Name)
	require.Equal(t, "budi@example.com", form.Email)
	require.NotEmpty(t, form.Error)
}

func TestActionsOutsideTheirStateConflict(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := openSession(t, f, 2)
	base := "/api/v1/checkout/sessions/" + id

	rr := f.do(http.MethodPost, base+"/retry", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "INVALID_TRANSITION", decodeError(t, rr).Error.Code)

	rr = f.do(http.MethodPost, base+"/reset", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodPost, base+"/reset", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCloseSessionStopsPolling(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	id := openSession(t, f, 1)
	base := "/api/v1/checkout/sessions/" + id

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base+"/submit", `{"name":"Budi","email":"budi@example.com"}`).Code)
	sess, err := f.store.Get(id)
	require.NoError(t, err)
	require.True(t, sess.Machine.Polling())

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, base, "").Code)
	require.False(t, sess.Machine.Polling())

	rr := f.do(http.MethodGet, base, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "SESSION_NOT_FOUND", decodeError(t, rr).Error.Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, base, "").Code)
}

func TestEventsStreamSnapshots(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	id := openSession(t, f, 1)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/checkout/sessions/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var first snapshotBody
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "form", first.Phase)

	rr := f.do(http.MethodPost, "/api/v1/checkout/sessions/"+id+"/submit", `{"name":"Budi","email":"budi@example.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var next snapshotBody
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, "qr", next.Phase)
	require.Greater(t, next.Seq, first.Seq)

	require.True(t, f.store.Close(id))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
