package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	apiPrefix             = "/api/v1"
	insufficientStockCode = "insufficient_stock"
)

// apiError: ответ API с кодом ошибки.
type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *apiError) reportCode() string {
	if e.Code == "" {
		return statusCode(e.Status)
	}
	return statusCode(e.Status) + " " + e.Code
}

// apiClient выполняет запросы к ERP API от имени одного пользователя.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	token   string
}

func newAPIClient(baseURL string, httpClient *http.Client, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

// do отправляет JSON-запрос и декодирует ответ в out. Статус 0 означает ошибку транспорта.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return resp.StatusCode, apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// timed выполняет запрос и записывает его в collector под именем name.
func (c *apiClient) timed(ctx context.Context, col *collector, name, method, path string, body, out any) error {
	start := time.Now()
	status, err := c.do(ctx, method, path, body, out)
	col.record(name, time.Since(start), callCode(status, err), err == nil)
	return err
}

func callCode(status int, err error) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.reportCode()
	}
	if err != nil && status != 0 {
		return codeDecode
	}
	return statusCode(status)
}

func (c *apiClient) login(ctx context.Context, email, password string) error {
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &tokens); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if tokens.AccessToken == "" {
		return errors.New("login: empty access token")
	}
	c.token = tokens.AccessToken
	return nil
}

type orderRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *apiClient) createOrder(ctx context.Context, col *collector, customerID, currency string) (orderRef, error) {
	body := map[string]any{"customer_id": customerID}
	if currency != "" {
		body["currency"] = currency
	}
	var order orderRef
	if err := c.timed(ctx, col, "CreateOrder", http.MethodPost, "/orders", body, &order); err != nil {
		return orderRef{}, err
	}
	if order.ID == "" {
		return orderRef{}, errors.New("create response returned empty order id")
	}
	return order, nil
}

// addItem резервирует товар в заказе. При acceptShortage отказ insufficient_stock
// учитывается как ожидаемый исход.
func (c *apiClient) addItem(ctx context.Context, col *collector, orderID, productID string, qty int, acceptShortage bool) error {
	start := time.Now()
	status, err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/items", map[string]any{
		"product_id": productID,
		"quantity":   qty,
	}, nil)
	ok := err == nil || (acceptShortage && isInsufficientStock(err))
	col.record("AddItem", time.Since(start), callCode(status, err), ok)
	return err
}

func (c *apiClient) cancelOrder(ctx context.Context, col *collector, orderID, reason string) error {
	return c.timed(ctx, col, "CancelOrder", http.MethodPost, "/orders/"+orderID+"/cancel", map[string]string{
		"reason": reason,
	}, nil)
}

func (c *apiClient) stock(ctx context.Context, productID string) (stockCheck, error) {
	var item struct {
		QuantityOnHand   int `json:"quantity_on_hand"`
		QuantityReserved int `json:"quantity_reserved"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/inventory/"+productID, nil, &item); err != nil {
		return stockCheck{}, fmt.Errorf("get inventory item: %w", err)
	}
	return stockCheck{
		ProductID:        productID,
		QuantityOnHand:   item.QuantityOnHand,
		QuantityReserved: item.QuantityReserved,
		Oversold:         item.QuantityReserved > item.QuantityOnHand,
	}, nil
}

// isInsufficientStock сообщает, отклонил ли сервер резерв из-за нехватки остатка.
func isInsufficientStock(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Code == insufficientStockCode
}
