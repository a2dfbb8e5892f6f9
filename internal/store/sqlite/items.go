package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farm_engine/internal/model"
)

// UpsertAccountItem stores an item and its wallet, if any.
func (s *Store) UpsertAccountItem(ctx context.Context, item model.AccountGroupItem) (model.AccountGroupItem, error) {
	if item.GroupID == "" {
		return model.AccountGroupItem{}, errors.New("groupId is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	// Secrets are json:"-" on the model, so they are stored under their own keys.
	stored := make([]storedSocial, 0, len(item.Socials))
	for _, sa := range item.Socials {
		stored = append(stored, storedSocial{SocialAccount: sa, Secret: sa.Password, Token: sa.Token})
	}
	socialsJSON, err := json.Marshal(stored)
	if err != nil {
		return model.AccountGroupItem{}, err
	}
	var email *storedEmail
	if item.Email != nil {
		email = &storedEmail{EmailAccount: *item.Email, Secret: item.Email.Password}
	}
	emailJSON, err := json.Marshal(email)
	if err != nil {
		return model.AccountGroupItem{}, err
	}
	var proxy *storedProxy
	if item.Proxy != nil {
		proxy = &storedProxy{Proxy: *item.Proxy, Secret: item.Proxy.Password}
	}
	proxyJSON, err := json.Marshal(proxy)
	if err != nil {
		return model.AccountGroupItem{}, err
	}
	fpJSON, err := json.Marshal(item.Fingerprint)
	if err != nil {
		return model.AccountGroupItem{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var walletID sql.NullString
		if w := item.Wallet; w != nil {
			if w.ID == "" {
				w.ID = uuid.NewString()
			}
			walletID = sql.NullString{String: w.ID, Valid: true}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO wallets (id, address, private_key, chain)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					address = excluded.address,
					private_key = excluded.private_key,
					chain = excluded.chain
			`, w.ID, w.Address, w.PrivateKey, w.Chain); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO account_items (id, group_id, label, wallet_id, socials_json, email_json, proxy_json, fingerprint_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				group_id = excluded.group_id,
				label = excluded.label,
				wallet_id = excluded.wallet_id,
				socials_json = excluded.socials_json,
				email_json = excluded.email_json,
				proxy_json = excluded.proxy_json,
				fingerprint_json = excluded.fingerprint_json
		`, item.ID, item.GroupID, item.Label, walletID, string(socialsJSON), string(emailJSON), string(proxyJSON), string(fpJSON), item.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return model.AccountGroupItem{}, err
	}

	items, err := s.GetAccountItems(ctx, []string{item.ID})
	if err != nil {
		return model.AccountGroupItem{}, err
	}
	if len(items) == 0 {
		return model.AccountGroupItem{}, fmt.Errorf("account item %s: %w", item.ID, ErrNotFound)
	}
	return items[0], nil
}

type storedEmail struct {
	model.EmailAccount
	Secret string `json:"secret,omitempty"`
}

type storedProxy struct {
	model.Proxy
	Secret string `json:"secret,omitempty"`
}

type storedSocial struct {
	model.SocialAccount
	Secret string `json:"secret,omitempty"`
	Token  string `json:"token,omitempty"`
}

const itemColumns = `
	i.id, i.group_id, i.label, i.socials_json, i.email_json, i.proxy_json, i.fingerprint_json, i.created_at,
	w.id, w.address, w.private_key, w.chain, w.balance, w.balance_at`

// GetAccountItems returns the items for ids in the order given. Unknown ids
// are skipped.
func (s *Store) GetAccountItems(ctx context.Context, ids []string) ([]model.AccountGroupItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM account_items i LEFT JOIN wallets w ON w.id = i.wallet_id
		WHERE i.id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]model.AccountGroupItem, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byID[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.AccountGroupItem, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func scanItem(rows *sql.Rows) (model.AccountGroupItem, error) {
	var row struct {
		id, groupID, label                     string
		socials, email, proxy, fingerprint     string
		createdAt                              int64
		walletID, address, key, chain, balance sql.NullString
		balanceAt                              sql.NullInt64
	}
	if err := rows.Scan(&row.id, &row.groupID, &row.label, &row.socials, &row.email, &row.proxy, &row.fingerprint, &row.createdAt,
		&row.walletID, &row.address, &row.key, &row.chain, &row.balance, &row.balanceAt); err != nil {
		return model.AccountGroupItem{}, err
	}

	item := model.AccountGroupItem{
		ID:        row.id,
		GroupID:   row.groupID,
		Label:     row.label,
		CreatedAt: time.UnixMilli(row.createdAt),
	}
	if row.walletID.Valid {
		item.Wallet = &model.Wallet{
			ID:         row.walletID.String,
			Address:    row.address.String,
			PrivateKey: row.key.String,
			Chain:      row.chain.String,
			Balance:    row.balance.String,
		}
		if row.balanceAt.Int64 > 0 {
			item.Wallet.BalanceAt = time.UnixMilli(row.balanceAt.Int64)
		}
	}

	var socials []storedSocial
	if err := json.Unmarshal([]byte(row.socials), &socials); err != nil {
		return model.AccountGroupItem{}, fmt.Errorf("item %s socials: %w", row.id, err)
	}
	for _, sa := range socials {
		acc := sa.SocialAccount
		acc.Password, acc.Token = sa.Secret, sa.Token
		item.Socials = append(item.Socials, acc)
	}

	var email *storedEmail
	if err := json.Unmarshal([]byte(row.email), &email); err != nil {
		return model.AccountGroupItem{}, fmt.Errorf("item %s email: %w", row.id, err)
	}
	if email != nil {
		e := email.EmailAccount
		e.Password = email.Secret
		item.Email = &e
	}

	var proxy *storedProxy
	if err := json.Unmarshal([]byte(row.proxy), &proxy); err != nil {
		return model.AccountGroupItem{}, fmt.Errorf("item %s proxy: %w", row.id, err)
	}
	if proxy != nil {
		p := proxy.Proxy
		p.Password = proxy.Secret
		item.Proxy = &p
	}

	if err := json.Unmarshal([]byte(row.fingerprint), &item.Fingerprint); err != nil {
		return model.AccountGroupItem{}, fmt.Errorf("item %s fingerprint: %w", row.id, err)
	}
	return item, nil
}

// ListWallets returns the wallets with the given ids, or every wallet when
// ids is empty.
func (s *Store) ListWallets(ctx context.Context, ids []string) ([]model.Wallet, error) {
	q := `SELECT id, address, private_key, chain, balance, balance_at FROM wallets`
	var args []any
	if len(ids) > 0 {
		q += ` WHERE id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Wallet
	for rows.Next() {
		var w model.Wallet
		var at int64
		if err := rows.Scan(&w.ID, &w.Address, &w.PrivateKey, &w.Chain, &w.Balance, &at); err != nil {
			return nil, err
		}
		if at > 0 {
			w.BalanceAt = time.UnixMilli(at)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWalletBalance(ctx context.Context, walletID, balance string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET balance = ?, balance_at = ? WHERE id = ?
	`, balance, at.UnixMilli(), walletID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	return nil
}
