/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package commerce is a read-only client for the store's Admin REST API (orders, customers and fulfillments).
package commerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/go-dbops/internal/restclient"
)

// DefaultAPIVersion is the Admin API version used when none is configured.
const DefaultAPIVersion = "2024-10"

// AccessTokenHeader carries the Admin API access token.
const AccessTokenHeader = "X-Shopify-Access-Token"

// ErrMissingCredentials is returned by New when the shop or the access token is empty.
var ErrMissingCredentials = errors.New("shop domain and access token are required")

// Client calls versioned Admin API endpoints of one shop.
type Client struct {
	rest *restclient.Client
}

// Option is a functional option for New.
type Option func(*options)

type options struct {
	apiVersion string
	httpClient *http.Client
}

// WithAPIVersion sets the Admin API version (e.g. "2024-10").
func WithAPIVersion(version string) Option {
	return func(o *options) {
		if version != "" {
			o.apiVersion = version
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// New creates a client for shop, which is either a bare domain ("example.myshopify.com")
// or a base URL with a scheme.
func New(shop, accessToken string, opts ...Option) (*Client, error) {
	if shop == "" || accessToken == "" {
		return nil, ErrMissingCredentials
	}
	o := options{apiVersion: DefaultAPIVersion, httpClient: &http.Client{Timeout: restclient.DefaultTimeout}}
	for _, opt := range opts {
		opt(&o)
	}
	base := strings.TrimRight(shop, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	rest, err := restclient.New(base+"/admin/api/"+o.apiVersion,
		restclient.WithHTTPClient(o.httpClient),
		restclient.WithHeader(AccessTokenHeader, accessToken))
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest}, nil
}

// Customer is a store customer.
type Customer struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Phone       string    `json:"phone"`
	OrdersCount int       `json:"orders_count"`
	TotalSpent  string    `json:"total_spent"`
	CreatedAt   time.Time `json:"created_at"`
}

// FullName returns "First Last" without extra spaces.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// LineItem is a product line of an order.
type LineItem struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// Order is a store order.
type Order struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	CreatedAt         time.Time  `json:"created_at"`
	FinancialStatus   string     `json:"financial_status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	TotalPrice        string     `json:"total_price"`
	Currency          string     `json:"currency"`
	Customer          *Customer  `json:"customer"`
	LineItems         []LineItem `json:"line_items"`
}

// Fulfillment is a shipment of (part of) an order.
type Fulfillment struct {
	ID              int64     `json:"id"`
	OrderID         int64     `json:"order_id"`
	Status          string    `json:"status"`
	TrackingCompany string    `json:"tracking_company"`
	TrackingNumber  string    `json:"tracking_number"`
	TrackingNumbers []string  `json:"tracking_numbers"`
	TrackingURL     string    `json:"tracking_url"`
	TrackingURLs    []string  `json:"tracking_urls"`
	CreatedAt       time.Time `json:"created_at"`
}

// Tracking is one tracking number with its carrier and URL.
type Tracking struct {
	Company string
	Number  string
	URL     string
}

// Tracking returns the tracking entries of the fulfillment.
// The plural fields win; the singular ones are used by older fulfillments.
func (f *Fulfillment) Tracking() []Tracking {
	numbers := f.TrackingNumbers
	if len(numbers) == 0 && f.TrackingNumber != "" {
		numbers = []string{f.TrackingNumber}
	}
	urls := f.TrackingURLs
	if len(urls) == 0 && f.TrackingURL != "" {
		urls = []string{f.TrackingURL}
	}
	res := make([]Tracking, 0, len(numbers))
	for i, number := range numbers {
		t := Tracking{Company: f.TrackingCompany, Number: number}
		if i < len(urls) {
			t.URL = urls[i]
		}
		res = append(res, t)
	}
	return res
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	_, err := c.rest.Do(ctx, restclient.Request{Method: http.MethodGet, Path: path, Query: query}, out)
	return err
}

// GetOrder returns the order with the given ID.
func (c *Client) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var resp struct {
		Order *Order `json:"order"`
	}
	if err := c.get(ctx, "orders/"+strconv.FormatInt(id, 10)+".json", nil, &resp); err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("get order %d: empty response", id)
	}
	return resp.Order, nil
}

// OrdersForCustomer returns up to limit most recent orders of the customer, in any status.
func (c *Client) OrdersForCustomer(ctx context.Context, customerID int64, limit int) ([]Order, error) {
	query := url.Values{
		"customer_id": {strconv.FormatInt(customerID, 10)},
		"status":      {"any"},
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.get(ctx, "orders.json", query, &resp); err != nil {
		return nil, fmt.Errorf("list orders of customer %d: %w", customerID, err)
	}
	return resp.Orders, nil
}

// GetCustomer returns the customer with the given ID.
func (c *Client) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var resp struct {
		Customer *Customer `json:"customer"`
	}
	if err := c.get(ctx, "customers/"+strconv.FormatInt(id, 10)+".json", nil, &resp); err != nil {
		return nil, fmt.Errorf("get customer %d: %w", id, err)
	}
	if resp.Customer == nil {
		return nil, fmt.Errorf("get customer %d: empty response", id)
	}
	return resp.Customer, nil
}

// SearchCustomers runs a customer search such as "email:ann@example.com".
func (c *Client) SearchCustomers(ctx context.Context, query string) ([]Customer, error) {
	var resp struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.get(ctx, "customers/search.json", url.Values{"query": {query}}, &resp); err != nil {
		return nil, fmt.Errorf("search customers %q: %w", query, err)
	}
	return resp.Customers, nil
}

// Fulfillments returns the fulfillments of the order.
func (c *Client) Fulfillments(ctx context.Context, orderID int64) ([]Fulfillment, error) {
	var resp struct {
		Fulfillments []Fulfillment `json:"fulfillments"`
	}
	if err := c.get(ctx, "orders/"+strconv.FormatInt(orderID, 10)+"/fulfillments.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("list fulfillments of order %d: %w", orderID, err)
	}
	return resp.Fulfillments, nil
}

// TrackingForOrder collects tracking entries from all fulfillments of the order.
func (c *Client) TrackingForOrder(ctx context.Context, orderID int64) ([]Tracking, error) {
	fulfillments, err := c.Fulfillments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var res []Tracking
	for i := range fulfillments {
		res = append(res, fulfillments[i].Tracking()...)
	}
	return res, nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *restclient.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
