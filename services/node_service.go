// services/node_service.go
package services

import (
	"context"
	"fmt"

	"custodial-wallet-service/ledger"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NodeService passes node-level reads through for operators. Nothing here
// touches the store.
type NodeService struct {
	provider ledger.Provider
	log      *zap.Logger
}

func NewNodeService(provider ledger.Provider, log *zap.Logger) *NodeService {
	return &NodeService{provider: provider, log: log}
}

// Balance returns the node wallet's own balance.
func (s *NodeService) Balance(ctx context.Context) (ledger.NodeBalance, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return ledger.NodeBalance{}, err
	}

	reader, ok := client.(ledger.BalanceReader)
	if !ok {
		return ledger.NodeBalance{}, status.Error(codes.Unimplemented, "node client cannot report its balance")
	}

	balance, err := reader.WalletBalance(ctx)
	if err != nil {
		return ledger.NodeBalance{}, fmt.Errorf("failed to read node balance: %w", err)
	}
	return balance, nil
}

// Transactions lists the node's transactions from startHeight, newest first,
// without classifying them.
func (s *NodeService) Transactions(ctx context.Context, startHeight int32) ([]ledger.RawTx, error) {
	if startHeight < 0 {
		return nil, status.Error(codes.InvalidArgument, "start_height must not be negative")
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	txs, err := client.ListTransactionsSince(ctx, startHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to list node transactions: %w", err)
	}
	s.log.Debug("listed node transactions", zap.Int32("start_height", startHeight), zap.Int("count", len(txs)))
	return txs, nil
}
