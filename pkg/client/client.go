// Package client is a small Go SDK for the receipt service HTTP API. It
// surfaces version conflicts as optimistic.ConflictError so callers can use
// the retry controller, and keeps all money fields as integer cents.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/tably/pkg/optimistic"
	"github.com/smallbiznis/tably/pkg/retry"
)

const headerUserID = "X-User-Id"

// APIError is any non-conflict failure returned by the service.
type APIError struct {
	Status    int
	Type      string
	Message   string
	Positions []int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

// Receipt mirrors the service's receipt payload.
type Receipt struct {
	ID            snowflake.ID              `json:"id"`
	OwnerID       snowflake.ID              `json:"owner_id"`
	Title         string                    `json:"title"`
	Description   string                    `json:"description"`
	Status        string                    `json:"status"`
	Currency      string                    `json:"currency"`
	TaxCents      int64                     `json:"tax_cents"`
	TipCents      int64                     `json:"tip_cents"`
	SubtotalCents int64                     `json:"subtotal_cents"`
	TotalCents    int64                     `json:"total_cents"`
	Version       int64                     `json:"version"`
	SplitDetails  map[string][]snowflake.ID `json:"split_details"`
	Items         []Item                    `json:"items,omitempty"`
	Participants  []Participant             `json:"participants,omitempty"`
	Payments      []Payment                 `json:"payments,omitempty"`
}

type Item struct {
	Position       int     `json:"position"`
	Name           string  `json:"name"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	Quantity       float64 `json:"quantity"`
	Taxable        bool    `json:"taxable"`
	SubtotalCents  int64   `json:"subtotal_cents"`
}

type Participant struct {
	UserID snowflake.ID `json:"user_id"`
	Role   string       `json:"role"`
}

type Payment struct {
	UserID      snowflake.ID `json:"user_id"`
	AmountCents int64        `json:"amount_cents"`
}

type LedgerEntry struct {
	ID                 snowflake.ID `json:"id"`
	ReceiptID          snowflake.ID `json:"receipt_id"`
	DebtorID           snowflake.ID `json:"debtor_id"`
	CreditorID         snowflake.ID `json:"creditor_id"`
	AmountCents        int64        `json:"amount_cents"`
	SettledAmountCents int64        `json:"settled_amount_cents"`
	Status             string       `json:"status"`
}

type UserBalance struct {
	UserID      snowflake.ID `json:"user_id"`
	OwesCents   int64        `json:"owes_cents"`
	IsOwedCents int64        `json:"is_owed_cents"`
	NetCents    int64        `json:"net_cents"`
}

type ItemInput struct {
	Name           string  `json:"name"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	Quantity       float64 `json:"quantity"`
	Taxable        *bool   `json:"taxable,omitempty"`
}

type PaymentInput struct {
	UserID      snowflake.ID `json:"user_id"`
	AmountCents int64        `json:"amount_cents"`
}

// ReceiptPatch matches the server's patch contract: nil fields are left
// untouched.
type ReceiptPatch struct {
	Title        *string                   `json:"title,omitempty"`
	Description  *string                   `json:"description,omitempty"`
	TaxCents     *int64                    `json:"tax_cents,omitempty"`
	TipCents     *int64                    `json:"tip_cents,omitempty"`
	Items        []ItemInput               `json:"items,omitempty"`
	Payments     []PaymentInput            `json:"payments,omitempty"`
	SplitDetails map[string][]snowflake.ID `json:"split_details,omitempty"`
}

type CreateReceiptRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Currency    string        `json:"currency,omitempty"`
	FolderID    *snowflake.ID `json:"folder_id,omitempty"`
}

type FinalizeResult struct {
	Receipt Receipt       `json:"receipt"`
	Entries []LedgerEntry `json:"ledger_entries"`
}

type UnfinalizeResult struct {
	Receipt      Receipt `json:"receipt"`
	DeletedCount int64   `json:"deleted_count"`
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithUser sets the identity sent on every request.
func WithUser(userID snowflake.ID) Option {
	return func(c *Client) { c.userID = userID }
}

type Client struct {
	baseURL string
	http    *http.Client
	userID  snowflake.ID
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateReceipt(ctx context.Context, req CreateReceiptRequest) (*Receipt, error) {
	var receipt Receipt
	if err := c.do(ctx, http.MethodPost, "/api/receipts", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) GetReceipt(ctx context.Context, id snowflake.ID) (*Receipt, error) {
	var receipt Receipt
	if err := c.do(ctx, http.MethodGet, "/api/receipts/"+id.String(), nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) UpdateReceipt(ctx context.Context, id snowflake.ID, expectedVersion int64, patch ReceiptPatch) (*Receipt, error) {
	body := struct {
		ExpectedVersion int64        `json:"expected_version"`
		Patch           ReceiptPatch `json:"patch"`
	}{ExpectedVersion: expectedVersion, Patch: patch}

	var receipt Receipt
	if err := c.do(ctx, http.MethodPatch, "/api/receipts/"+id.String(), body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// UpdateReceiptWithRetry reads the current version, applies the patch, and
// transparently refetches and retries on version conflicts within the given
// budget. After the budget a *retry.ExhaustedError is returned.
func (c *Client) UpdateReceiptWithRetry(ctx context.Context, id snowflake.ID, patch ReceiptPatch, opts retry.Options) (*Receipt, error) {
	current, err := c.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}

	return retry.Do(ctx, opts, current,
		func(ctx context.Context, state *Receipt) (*Receipt, error) {
			return c.UpdateReceipt(ctx, id, state.Version, patch)
		},
		func(ctx context.Context) (*Receipt, error) {
			return c.GetReceipt(ctx, id)
		},
	)
}

func (c *Client) AddMember(ctx context.Context, receiptID, userID snowflake.ID) (*Receipt, error) {
	body := struct {
		UserID snowflake.ID `json:"user_id"`
	}{UserID: userID}

	var receipt Receipt
	if err := c.do(ctx, http.MethodPost, "/api/receipts/"+receiptID.String()+"/members", body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) RemoveMember(ctx context.Context, receiptID, userID snowflake.ID) (*Receipt, error) {
	var receipt Receipt
	path := "/api/receipts/" + receiptID.String() + "/members/" + userID.String()
	if err := c.do(ctx, http.MethodDelete, path, nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) FinalizeReceipt(ctx context.Context, id snowflake.ID, expectedVersion int64) (*FinalizeResult, error) {
	body := struct {
		ExpectedVersion int64 `json:"expected_version"`
	}{ExpectedVersion: expectedVersion}

	var result FinalizeResult
	if err := c.do(ctx, http.MethodPost, "/api/receipts/"+id.String()+"/finalize", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) UnfinalizeReceipt(ctx context.Context, id snowflake.ID) (*UnfinalizeResult, error) {
	var result UnfinalizeResult
	if err := c.do(ctx, http.MethodPost, "/api/receipts/"+id.String()+"/unfinalize", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetReceiptLedger(ctx context.Context, receiptID snowflake.ID) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	if err := c.do(ctx, http.MethodGet, "/api/receipts/"+receiptID.String()+"/ledger", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) SettleLedgerEntry(ctx context.Context, entryID snowflake.ID, amountCents int64) (*LedgerEntry, error) {
	body := struct {
		AmountCents int64 `json:"amount_cents"`
	}{AmountCents: amountCents}

	var entry LedgerEntry
	if err := c.do(ctx, http.MethodPost, "/api/ledger/"+entryID.String()+"/settle", body, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) GetUserBalance(ctx context.Context, userID snowflake.ID) (*UserBalance, error) {
	var balance UserBalance
	if err := c.do(ctx, http.MethodGet, "/api/users/"+userID.String()+"/balance", nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != 0 {
		req.Header.Set(headerUserID, c.userID.String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, out)
}

func decodeError(status int, raw []byte) error {
	var payload struct {
		Error struct {
			Type            string `json:"type"`
			Message         string `json:"message"`
			Positions       []int  `json:"positions"`
			ExpectedVersion *int64 `json:"expected_version"`
			ActualVersion   *int64 `json:"actual_version"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &APIError{Status: status, Type: "unknown", Message: string(raw)}
	}

	if payload.Error.Type == "conflict" &&
		payload.Error.ExpectedVersion != nil && payload.Error.ActualVersion != nil {
		return &optimistic.ConflictError{
			Expected: *payload.Error.ExpectedVersion,
			Actual:   *payload.Error.ActualVersion,
		}
	}

	return &APIError{
		Status:    status,
		Type:      payload.Error.Type,
		Message:   payload.Error.Message,
		Positions: payload.Error.Positions,
	}
}
