/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package commerce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat_test", r.Header.Get(AccessTokenHeader))
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	client, err := New(server.URL, "shpat_test", WithAPIVersion("2024-01"))
	require.NoError(t, err)
	return client
}

func TestNew(t *testing.T) {
	_, err := New("", "token")
	require.ErrorIs(t, err, ErrMissingCredentials)
	_, err = New("example.myshopify.com", "")
	require.ErrorIs(t, err, ErrMissingCredentials)

	client, err := New("example.myshopify.com", "token")
	require.NoError(t, err)
	require.Equal(t, "https://example.myshopify.com/admin/api/"+DefaultAPIVersion, client.rest.BaseURL())
}

func TestClient_GetOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2024-01/orders/450789469.json":
			_, _ = w.Write([]byte(`{"order":{
				"id":450789469,"name":"#1001","email":"ann@example.com",
				"created_at":"2026-10-01T10:00:00-04:00","financial_status":"paid","fulfillment_status":null,
				"total_price":"199.00","currency":"USD",
				"customer":{"id":207119551,"email":"ann@example.com","first_name":"Ann","last_name":"Lee"},
				"line_items":[{"id":1,"title":"Tincture 30ml","sku":"TN-30","quantity":2,"price":"99.50"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":"Not Found"}`))
		}
	})

	order, err := client.GetOrder(context.Background(), 450789469)
	require.NoError(t, err)
	assert.Equal(t, "#1001", order.Name)
	assert.Equal(t, "", order.FulfillmentStatus)
	require.NotNil(t, order.Customer)
	assert.Equal(t, "Ann Lee", order.Customer.FullName())
	require.Len(t, order.LineItems, 1)
	assert.Equal(t, 2, order.LineItems[0].Quantity)

	_, err = client.GetOrder(context.Background(), 1)
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.Contains(t, err.Error(), "get order 1")
}

func TestClient_Customers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2024-01/customers/207119551.json":
			_, _ = w.Write([]byte(`{"customer":{"id":207119551,"email":"ann@example.com","orders_count":3,"total_spent":"420.00"}}`))
		case "/admin/api/2024-01/customers/search.json":
			assert.Equal(t, "email:ann@example.com", r.URL.Query().Get("query"))
			_, _ = w.Write([]byte(`{"customers":[{"id":207119551,"email":"ann@example.com"}]}`))
		case "/admin/api/2024-01/orders.json":
			assert.Equal(t, "207119551", r.URL.Query().Get("customer_id"))
			assert.Equal(t, "any", r.URL.Query().Get("status"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"orders":[{"id":1,"name":"#1001"},{"id":2,"name":"#1002"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	customer, err := client.GetCustomer(ctx, 207119551)
	require.NoError(t, err)
	assert.Equal(t, 3, customer.OrdersCount)

	customers, err := client.SearchCustomers(ctx, "email:ann@example.com")
	require.NoError(t, err)
	require.Len(t, customers, 1)

	orders, err := client.OrdersForCustomer(ctx, 207119551, 5)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "#1002", orders[1].Name)
}

func TestClient_TrackingForOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2024-01/orders/1001/fulfillments.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"fulfillments":[
			{"id":1,"order_id":1001,"status":"success","tracking_company":"UPS",
			 "tracking_numbers":["1Z001","1Z002"],"tracking_urls":["https://ups.test/1Z001"]},
			{"id":2,"order_id":1001,"status":"success","tracking_company":"USPS",
			 "tracking_number":"9400","tracking_url":"https://usps.test/9400"},
			{"id":3,"order_id":1001,"status":"pending"}]}`))
	})

	tracking, err := client.TrackingForOrder(context.Background(), 1001)
	require.NoError(t, err)
	require.Equal(t, []Tracking{
		{Company: "UPS", Number: "1Z001", URL: "https://ups.test/1Z001"},
		{Company: "UPS", Number: "1Z002"},
		{Company: "USPS", Number: "9400", URL: "https://usps.test/9400"},
	}, tracking)
}

func TestClient_Unauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":"[API] Invalid API key or access token"}`))
	})
	_, err := client.SearchCustomers(context.Background(), "email:x@example.com")
	require.ErrorContains(t, err, "401")
	require.False(t, IsNotFound(err))
}
