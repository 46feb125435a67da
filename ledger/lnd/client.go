// Package lnd talks to an LND node over its REST gateway.
package lnd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"custodial-wallet-service/ledger"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"
)

const macaroonHeader = "Grpc-Metadata-macaroon"

// Address type 1 in lnrpc.AddressType is a nested p2wkh (np2wkh) address.
const nestedPubkeyHash = "1"

// Wallet states reported by /v1/state.
const (
	StateNonExisting    = "NON_EXISTING"
	StateLocked         = "LOCKED"
	StateUnlocked       = "UNLOCKED"
	StateRPCActive      = "RPC_ACTIVE"
	StateServerActive   = "SERVER_ACTIVE"
	StateWaitingToStart = "WAITING_TO_START"
)

// Client is a ledger.Client backed by LND REST.
type Client struct {
	baseURL     *url.URL
	macaroonHex string
	httpClient  *http.Client
	log         *zap.Logger
}

var (
	_ ledger.Client        = (*Client)(nil)
	_ ledger.BalanceReader = (*Client)(nil)
)

func NewClient(baseURL string, macaroonHex string, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LND base URL '%s': %w", baseURL, err)
	}
	return &Client{
		baseURL:     u,
		macaroonHex: macaroonHex,
		httpClient:  httpClient,
		log:         log,
	}, nil
}

// APIError is a non-200 answer from the REST gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lnd returned status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.macaroonHex != "" {
		req.Header.Set(macaroonHeader, c.macaroonHex)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ledger.ErrUnavailable, method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ledger.ErrUnavailable, apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// restTx mirrors lnrpc.Transaction as encoded by the REST gateway: 64-bit
// integers arrive as strings.
type restTx struct {
	TxHash           string   `json:"tx_hash"`
	Amount           int64    `json:"amount,string"`
	NumConfirmations int32    `json:"num_confirmations"`
	BlockHeight      int32    `json:"block_height"`
	TimeStamp        int64    `json:"time_stamp,string"`
	TotalFees        int64    `json:"total_fees,string"`
	DestAddresses    []string `json:"dest_addresses"`
	Label            string   `json:"label"`
}

type getTransactionsResponse struct {
	Transactions []restTx `json:"transactions"`
}

// ListTransactionsSince returns transactions mined at startHeight or later
// plus unconfirmed ones, in node order (newest first).
func (c *Client) ListTransactionsSince(ctx context.Context, startHeight int32) ([]ledger.RawTx, error) {
	q := url.Values{}
	q.Set("start_height", strconv.FormatInt(int64(startHeight), 10))
	q.Set("end_height", "-1")

	var resp getTransactionsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/transactions", q, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]ledger.RawTx, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		if _, err := chainhash.NewHashFromStr(t.TxHash); err != nil {
			c.log.Warn("skipping transaction with invalid hash", zap.String("tx_hash", t.TxHash), zap.Error(err))
			continue
		}
		out = append(out, ledger.RawTx{
			TxHash:           t.TxHash,
			Amount:           t.Amount,
			DestAddresses:    t.DestAddresses,
			NumConfirmations: t.NumConfirmations,
			BlockHeight:      t.BlockHeight,
			TimeStamp:        t.TimeStamp,
			TotalFees:        t.TotalFees,
			Label:            t.Label,
		})
	}
	return out, nil
}

func (c *Client) NewAddress(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("type", nestedPubkeyHash)

	var resp struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/newaddress", q, nil, &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("lnd returned an empty address")
	}
	return resp.Address, nil
}

func (c *Client) SendCoins(ctx context.Context, req ledger.SendRequest) (string, error) {
	body := struct {
		Addr        string `json:"addr"`
		Amount      int64  `json:"amount,string"`
		SatPerVByte int64  `json:"sat_per_vbyte,string"`
		Label       string `json:"label"`
	}{
		Addr:        req.Address,
		Amount:      req.Amount,
		SatPerVByte: req.SatPerVByte,
		Label:       req.Label,
	}

	var resp struct {
		Txid string `json:"txid"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", nil, body, &resp); err != nil {
		return "", err
	}
	if _, err := chainhash.NewHashFromStr(resp.Txid); err != nil {
		return "", fmt.Errorf("lnd returned invalid txid %q: %w", resp.Txid, err)
	}
	return resp.Txid, nil
}

func (c *Client) WalletBalance(ctx context.Context) (ledger.NodeBalance, error) {
	var resp struct {
		TotalBalance       int64 `json:"total_balance,string"`
		ConfirmedBalance   int64 `json:"confirmed_balance,string"`
		UnconfirmedBalance int64 `json:"unconfirmed_balance,string"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/balance/blockchain", nil, nil, &resp); err != nil {
		return ledger.NodeBalance{}, err
	}
	return ledger.NodeBalance{
		Total:       resp.TotalBalance,
		Confirmed:   resp.ConfirmedBalance,
		Unconfirmed: resp.UnconfirmedBalance,
	}, nil
}

// State returns the wallet state. The endpoint needs no macaroon.
func (c *Client) State(ctx context.Context) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/state", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *Client) Unlock(ctx context.Context, password []byte) error {
	body := struct {
		WalletPassword string `json:"wallet_password"`
	}{
		WalletPassword: base64.StdEncoding.EncodeToString(password),
	}
	return c.do(ctx, http.MethodPost, "/v1/unlockwallet", nil, body, nil)
}
