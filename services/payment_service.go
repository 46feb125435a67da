// services/payment_service.go
package services

import (
	"context"
	"errors"
	"sync"

	"custodial-wallet-service/classifier"
	"custodial-wallet-service/ledger"
	"custodial-wallet-service/metrics"
	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PaymentLimits guard payment submissions.
type PaymentLimits struct {
	MinAmount      int64
	MinFeeRate     int64
	TransferMargin int64
	AvgTxVBytes    int64
}

// Required is what the wallet must hold, settled, to send amount at
// feeRate.
func (l PaymentLimits) Required(amount, feeRate int64) int64 {
	return amount + feeRate*l.AvgTxVBytes + l.TransferMargin
}

type PaymentRequest struct {
	ToAddress string `json:"address"`
	Amount    int64  `json:"amount"`
	FeeRate   int64  `json:"fee"`
}

// PaymentService broadcasts on-chain payments for a wallet and records
// them.
type PaymentService struct {
	store    store.Store
	provider ledger.Provider
	params   *chaincfg.Params
	limits   PaymentLimits
	clock    clock.Clock
	log      *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*walletMutex
}

type walletMutex struct {
	sync.Mutex
	refs int
}

func NewPaymentService(st store.Store, provider ledger.Provider, params *chaincfg.Params, limits PaymentLimits,
	clk clock.Clock, log *zap.Logger) *PaymentService {

	return &PaymentService{
		store:    st,
		provider: provider,
		params:   params,
		limits:   limits,
		clock:    clk,
		log:      log,
		locks:    make(map[string]*walletMutex),
	}
}

// lockWallet serialises submissions per wallet, from the balance check
// until the payment is recorded. The returned func releases the lock and
// drops it once no submission holds or waits for it.
func (s *PaymentService) lockWallet(walletID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[walletID]
	if !ok {
		mu = &walletMutex{}
		s.locks[walletID] = mu
	}
	mu.refs++
	s.locksMu.Unlock()

	mu.Lock()
	return func() {
		mu.Unlock()

		s.locksMu.Lock()
		mu.refs--
		if mu.refs == 0 {
			delete(s.locks, walletID)
		}
		s.locksMu.Unlock()
	}
}

func (s *PaymentService) validate(req PaymentRequest) error {
	if req.ToAddress == "" {
		return status.Error(codes.InvalidArgument, "address is required")
	}
	addr, err := btcutil.DecodeAddress(req.ToAddress, s.params)
	if err != nil || !addr.IsForNet(s.params) {
		return status.Error(codes.InvalidArgument, "the bitcoin address is in invalid format")
	}
	if req.Amount < s.limits.MinAmount {
		return status.Errorf(codes.FailedPrecondition, "the minimum amount is %d sats", s.limits.MinAmount)
	}
	if req.FeeRate < s.limits.MinFeeRate {
		return status.Errorf(codes.FailedPrecondition, "the minimum fee is %d sat/vB", s.limits.MinFeeRate)
	}
	return nil
}

// SubmitPayment checks the wallet's settled balance, broadcasts the payment
// with a label that ties it back to the wallet, and records it.
func (s *PaymentService) SubmitPayment(ctx context.Context, ownerID, walletID string, req PaymentRequest) (models.OutgoingTx, error) {
	if err := s.validate(req); err != nil {
		metrics.PaymentsSubmitted.WithLabelValues("rejected").Inc()
		return models.OutgoingTx{}, err
	}

	unlock := s.lockWallet(walletID)
	defer unlock()

	required := s.limits.Required(req.Amount, req.FeeRate)
	var cursor int32
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		w, err := ownedWallet(tx, ownerID, walletID)
		if err != nil {
			return err
		}

		// Debits are summed from the payment records; the cached settled
		// total may not include one recorded moments ago.
		incoming := w.Incoming()
		payments, err := tx.OutgoingTxs(walletID)
		if err != nil {
			return err
		}
		available := models.SettledBalance(incoming, fn.Some(sumOutgoing(payments)))
		if incoming.IsNone() || available < required {
			return status.Errorf(codes.FailedPrecondition,
				"not enough funds to complete the transfer, needed %d, available %d", required, available)
		}

		c, err := tx.Cursor()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		cursor = c.BlockHeight
		return nil
	})
	if err != nil {
		metrics.PaymentsSubmitted.WithLabelValues("rejected").Inc()
		return models.OutgoingTx{}, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		metrics.PaymentsSubmitted.WithLabelValues("unavailable").Inc()
		return models.OutgoingTx{}, err
	}

	paymentID := uuid.NewString()
	txid, err := client.SendCoins(ctx, ledger.SendRequest{
		Address:     req.ToAddress,
		Amount:      req.Amount,
		SatPerVByte: req.FeeRate,
		Label:       classifier.PaymentLabel(walletID, paymentID),
	})
	if err != nil {
		metrics.PaymentsSubmitted.WithLabelValues("failed").Inc()
		s.log.Error("failed to broadcast payment",
			zap.String("wallet_id", walletID),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		if errors.Is(err, ledger.ErrUnavailable) {
			return models.OutgoingTx{}, err
		}
		return models.OutgoingTx{}, status.Error(codes.Unknown, "an error occurred while broadcasting the payment")
	}

	s.log.Info("payment broadcast",
		zap.String("wallet_id", walletID),
		zap.String("payment_id", paymentID),
		zap.String("tx_hash", txid),
		zap.Stringer("amount", btcutil.Amount(req.Amount)),
		zap.Int64("sat_per_vbyte", req.FeeRate),
	)

	created := s.clock.Now()
	record := models.OutgoingTx{
		WalletID:  walletID,
		PaymentID: paymentID,
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
		TxHash:    txid,
		Status:    models.StatusNew,
		CreatedAt: &created,
	}
	s.lookupMempool(ctx, client, cursor, &record)

	err = s.store.RunTransaction(ctx, func(tx store.Tx) error {
		existing, err := tx.OutgoingTx(walletID, paymentID)
		if err == nil && existing.Status.Rank() > record.Status.Rank() {
			// A sync run already picked it up.
			return nil
		}
		return tx.PutOutgoingTx(record)
	})
	if err != nil {
		metrics.PaymentsSubmitted.WithLabelValues("unrecorded").Inc()
		s.log.Error("payment broadcast but not recorded, sync will reconstruct it",
			zap.String("wallet_id", walletID),
			zap.String("payment_id", paymentID),
			zap.String("tx_hash", txid),
			zap.Error(err),
		)
		return record, status.Errorf(codes.Unknown, "payment %s was broadcast but could not be recorded", txid)
	}

	metrics.PaymentsSubmitted.WithLabelValues("ok").Inc()
	return record, nil
}

// lookupMempool fills in the actual fee when the node already lists the
// broadcast transaction.
func (s *PaymentService) lookupMempool(ctx context.Context, client ledger.Source, cursor int32, record *models.OutgoingTx) {
	txs, err := client.ListTransactionsSince(ctx, cursor)
	if err != nil {
		s.log.Warn("could not fetch mempool transaction", zap.String("tx_hash", record.TxHash), zap.Error(err))
		return
	}
	for _, t := range txs {
		if t.TxHash != record.TxHash {
			continue
		}
		ts := t.Time()
		record.Fee = t.TotalFees
		record.Timestamp = &ts
		record.Status = models.StatusMempool
		return
	}
	s.log.Info("payment not yet listed by node, fee unknown", zap.String("tx_hash", record.TxHash))
}
