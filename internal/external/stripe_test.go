package external

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logoforge/internal/types"
)

type stubUserLookup struct {
	customerID string
	email      string
	getErr     error

	updatedUserID     string
	updatedCustomerID string
	updateErr         error
}

func (s *stubUserLookup) GetBillingInfo(_ context.Context, _ string) (string, string, error) {
	return s.customerID, s.email, s.getErr
}

func (s *stubUserLookup) UpdateStripeCustomerID(_ context.Context, userID, customerID string) error {
	s.updatedUserID = userID
	s.updatedCustomerID = customerID
	return s.updateErr
}

func newTestStripeClient(t *testing.T, baseURL string, lookup UserBillingLookup) *StripeClient {
	t.Helper()
	return NewStripeClientWithBase(newTestBaseClient(t, 0), lookup, StripeClientConfig{
		SecretKey:      "sk_test_123",
		UpgradePriceID: "price_upgrade",
		BaseURL:        baseURL,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestEnsureCustomer_FindsExisting(t *testing.T) {
	lookup := &stubUserLookup{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/customers/search", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("query"), "metadata['user_id']:'user-1'")
		w.Write([]byte(`{"data":[{"id":"cus_existing","email":"a@b.com"}]}`))
	}))
	defer srv.Close()

	c := newTestStripeClient(t, srv.URL, lookup)
	id, err := c.EnsureCustomer(t.Context(), "user-1", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
	assert.Equal(t, "cus_existing", lookup.updatedCustomerID)
}

func TestEnsureCustomer_CreatesWhenMissing(t *testing.T) {
	lookup := &stubUserLookup{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers/search":
			w.Write([]byte(`{"data":[]}`))
		case "/v1/customers":
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "a@b.com", r.PostForm.Get("email"))
			assert.Equal(t, "user-1", r.PostForm.Get("metadata[user_id]"))
			w.Write([]byte(`{"id":"cus_new","email":"a@b.com"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestStripeClient(t, srv.URL, lookup)
	id, err := c.EnsureCustomer(t.Context(), "user-1", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
	assert.Equal(t, "user-1", lookup.updatedUserID)
	assert.Equal(t, "cus_new", lookup.updatedCustomerID)
}

func TestEnsureCustomer_StripeRejectionMapsToUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"bad_query","message":"nope"}}`))
	}))
	defer srv.Close()

	c := newTestStripeClient(t, srv.URL, &stubUserLookup{})
	_, err := c.EnsureCustomer(t.Context(), "user-1", "a@b.com")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamStripe, appErr.Code)
	assert.Equal(t, "bad_query", appErr.Details["stripe_code"])
}

func TestCreateCheckoutSession_OneTimePayment(t *testing.T) {
	lookup := &stubUserLookup{customerID: "cus_existing", email: "a@b.com"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "cus_existing", r.PostForm.Get("customer"))
		assert.Equal(t, "user-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "price_upgrade", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "https://app.example.com/ok", r.PostForm.Get("success_url"))
		assert.Equal(t, "https://app.example.com/cancel", r.PostForm.Get("cancel_url"))
		w.Write([]byte(`{"id":"cs_123","url":"https://checkout.stripe.com/c/pay/cs_123"}`))
	}))
	defer srv.Close()

	c := newTestStripeClient(t, srv.URL, lookup)
	url, sessionID, err := c.CreateCheckoutSession(t.Context(), "user-1", RedirectURLs{
		Success: "https://app.example.com/ok",
		Cancel:  "https://app.example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_123", url)
	assert.Equal(t, "cs_123", sessionID)
}

func TestCreateCheckoutSession_RequiresCustomer(t *testing.T) {
	c := newTestStripeClient(t, "http://unused.invalid", &stubUserLookup{customerID: ""})

	_, _, err := c.CreateCheckoutSession(t.Context(), "user-1", RedirectURLs{})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestCreateCheckoutSession_StripeServerError(t *testing.T) {
	lookup := &stubUserLookup{customerID: "cus_existing"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	c := newTestStripeClient(t, srv.URL, lookup)
	_, _, err := c.CreateCheckoutSession(t.Context(), "user-1", RedirectURLs{})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamStripe, appErr.Code)
}

func TestStripeVerifier_RejectsBadSignature(t *testing.T) {
	v := &StripeVerifier{}
	err := v.Verify([]byte(`{"type":"checkout.session.completed"}`), "t=1,v1=deadbeef", "whsec_test")
	assert.Error(t, err)
}
