package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/ticketledger/libs/db"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/model"
)

type WalletRepository struct {
	pool *db.Pool
}

func NewWalletRepository(pool *db.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (model.Wallet, bool, error) {
	var w model.Wallet
	err := r.pool.Querier(ctx).QueryRow(ctx, `
		SELECT user_id, address, encrypted_private_key, iv
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.Address, &w.EncryptedPrivateKey, &w.IV)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Wallet{}, false, nil
	}
	if err != nil {
		return model.Wallet{}, false, err
	}
	return w, true, nil
}
