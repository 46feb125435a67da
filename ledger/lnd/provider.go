package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"custodial-wallet-service/ledger"
	"custodial-wallet-service/utils"

	"go.uber.org/zap"
)

// Secret keys looked up in the SecretSource.
type SecretKeys struct {
	Macaroon string
	TLSCert  string
	Password string
}

type ProviderConfig struct {
	Host    string
	Port    int
	Keys    SecretKeys
	Timeout time.Duration
}

// Provider builds the LND client from secrets on first use and makes sure
// the wallet is unlocked and serving before handing it out.
type Provider struct {
	cfg     ProviderConfig
	secrets utils.SecretSource
	log     *zap.Logger

	mu     sync.Mutex
	client *Client

	// newClient is replaced in tests to skip the TLS setup.
	newClient func(ctx context.Context) (*Client, error)
}

var _ ledger.Provider = (*Provider)(nil)

func NewProvider(cfg ProviderConfig, secrets utils.SecretSource, log *zap.Logger) *Provider {
	p := &Provider{cfg: cfg, secrets: secrets, log: log}
	p.newClient = p.buildClient
	return p
}

func (p *Provider) baseURL() string {
	return fmt.Sprintf("https://%s:%d", p.cfg.Host, p.cfg.Port)
}

func (p *Provider) buildClient(ctx context.Context) (*Client, error) {
	macaroon, err := p.secrets.Secret(ctx, p.cfg.Keys.Macaroon)
	if err != nil {
		return nil, fmt.Errorf("failed to load macaroon: %w", err)
	}
	cert, err := p.secrets.Secret(ctx, p.cfg.Keys.TLSCert)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert: %w", err)
	}

	macaroonHex, err := normalizeMacaroon(macaroon)
	if err != nil {
		return nil, err
	}

	httpClient, err := utils.NewPinnedTLSClient(cert, p.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS client: %w", err)
	}

	return NewClient(p.baseURL(), macaroonHex, httpClient, p.log)
}

// normalizeMacaroon accepts a hex string or the raw binary macaroon file.
func normalizeMacaroon(raw []byte) (string, error) {
	s := strings.TrimSpace(string(raw))
	if _, err := hex.DecodeString(s); err == nil && s != "" {
		return s, nil
	}
	if len(raw) == 0 {
		return "", errors.New("empty macaroon")
	}
	return hex.EncodeToString(raw), nil
}

// Client returns the active client. Any failure is reported as
// ledger.ErrUnavailable so callers can retry later.
func (p *Provider) Client(ctx context.Context) (ledger.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		c, err := p.newClient(ctx)
		if err != nil {
			p.log.Error("failed to initialise LND client", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
		}
		p.client = c
	}

	state, err := p.client.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: state check: %v", ledger.ErrUnavailable, err)
	}

	switch state {
	case StateRPCActive, StateServerActive:
		return p.client, nil
	case StateLocked:
		if err := p.unlock(ctx); err != nil {
			return nil, err
		}
		// The node takes a moment to become active after unlocking.
		return nil, fmt.Errorf("%w: wallet unlocking", ledger.ErrUnavailable)
	default:
		p.log.Warn("LND wallet not ready", zap.String("state", state))
		return nil, fmt.Errorf("%w: wallet state %s", ledger.ErrUnavailable, state)
	}
}

func (p *Provider) unlock(ctx context.Context) error {
	password, err := p.secrets.Secret(ctx, p.cfg.Keys.Password)
	if err != nil {
		return fmt.Errorf("%w: failed to load wallet password: %v", ledger.ErrUnavailable, err)
	}

	p.log.Info("unlocking LND wallet")
	if err := p.client.Unlock(ctx, []byte(strings.TrimSpace(string(password)))); err != nil {
		p.log.Error("failed to unlock LND wallet", zap.Error(err))
		return fmt.Errorf("%w: unlock: %v", ledger.ErrUnavailable, err)
	}
	return nil
}
