// services/wallet_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"custodial-wallet-service/ledger"
	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errWalletNotFound = status.Error(codes.NotFound, "wallet not found")

// WalletService provisions wallets and addresses and serves wallet views.
type WalletService struct {
	store    store.Store
	provider ledger.Provider
	clock    clock.Clock
	log      *zap.Logger
}

func NewWalletService(st store.Store, provider ledger.Provider, clk clock.Clock, log *zap.Logger) *WalletService {
	return &WalletService{store: st, provider: provider, clock: clk, log: log}
}

// ownedWallet loads a wallet and hides wallets of other owners behind the
// same not-found error.
func ownedWallet(tx store.Tx, ownerID, walletID string) (models.Wallet, error) {
	w, err := tx.Wallet(walletID)
	if errors.Is(err, store.ErrNotFound) {
		return w, errWalletNotFound
	}
	if err != nil {
		return w, err
	}
	if w.OwnerID != ownerID {
		return w, errWalletNotFound
	}
	return w, nil
}

func (s *WalletService) newAddress(ctx context.Context) (string, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return "", err
	}
	addr, err := client.NewAddress(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get new address: %w", err)
	}
	return addr, nil
}

// CreateWallet creates a wallet with a fresh receiving address. The wallet
// and its first address are written together.
func (s *WalletService) CreateWallet(ctx context.Context, ownerID string) (models.WalletView, error) {
	if ownerID == "" {
		return models.WalletView{}, status.Error(codes.InvalidArgument, "owner id is required")
	}

	addr, err := s.newAddress(ctx)
	if err != nil {
		return models.WalletView{}, err
	}

	now := s.clock.Now()
	wallet := models.Wallet{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		ActiveAddress: addr,
		CreatedAt:     now,
	}
	address := models.Address{
		Address:   addr,
		WalletID:  wallet.ID,
		CreatedAt: now,
	}

	err = s.store.RunTransaction(ctx, func(tx store.Tx) error {
		if err := tx.PutWallet(wallet); err != nil {
			return err
		}
		return tx.PutAddress(address)
	})
	if err != nil {
		return models.WalletView{}, fmt.Errorf("failed to create wallet: %w", err)
	}

	s.log.Info("wallet created",
		zap.String("wallet_id", wallet.ID),
		zap.String("owner_id", ownerID),
		zap.String("address", addr),
	)
	return models.NewWalletView(wallet, []models.Address{address}), nil
}

// AllocateAddress adds a new receiving address to the wallet and makes it
// the active one.
func (s *WalletService) AllocateAddress(ctx context.Context, ownerID, walletID string) (models.Address, error) {
	if err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		_, err := ownedWallet(tx, ownerID, walletID)
		return err
	}); err != nil {
		return models.Address{}, err
	}

	addr, err := s.newAddress(ctx)
	if err != nil {
		return models.Address{}, err
	}

	address := models.Address{Address: addr, WalletID: walletID, CreatedAt: s.clock.Now()}
	err = s.store.RunTransaction(ctx, func(tx store.Tx) error {
		w, err := ownedWallet(tx, ownerID, walletID)
		if err != nil {
			return err
		}
		w.ActiveAddress = addr
		if err := tx.PutWallet(w); err != nil {
			return err
		}
		return tx.PutAddress(address)
	})
	if err != nil {
		return models.Address{}, fmt.Errorf("failed to allocate address: %w", err)
	}

	s.log.Info("address allocated", zap.String("wallet_id", walletID), zap.String("address", addr))
	return address, nil
}

func (s *WalletService) GetWallet(ctx context.Context, ownerID, walletID string) (models.WalletView, error) {
	var view models.WalletView
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		w, err := ownedWallet(tx, ownerID, walletID)
		if err != nil {
			return err
		}
		addrs, err := tx.WalletAddresses(walletID)
		if err != nil {
			return err
		}
		view = models.NewWalletView(w, addrs)
		return nil
	})
	return view, err
}

func (s *WalletService) ListPayments(ctx context.Context, ownerID, walletID string) ([]models.OutgoingTx, error) {
	var out []models.OutgoingTx
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		if _, err := ownedWallet(tx, ownerID, walletID); err != nil {
			return err
		}
		list, err := tx.OutgoingTxs(walletID)
		out = list
		return err
	})
	return out, err
}
