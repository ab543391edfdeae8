package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS addresses (
	bip32_index INTEGER PRIMARY KEY,
	address     TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS history (
	seq   INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_id TEXT NOT NULL UNIQUE,
	data  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS address_meta (
	address TEXT PRIMARY KEY,
	data    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS token_meta (
	token TEXT PRIMARY KEY,
	data  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS token_config (
	uid    TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	symbol TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS utxos (
	id          TEXT PRIMARY KEY,
	tx_id       TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	token       TEXT NOT NULL,
	address     TEXT NOT NULL,
	value       INTEGER NOT NULL,
	authorities INTEGER NOT NULL,
	timelock    INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	locked      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS wallet_data (
	k    TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
`

// SQLiteStoreOpts configures a SQLiteStore.
type SQLiteStoreOpts struct {
	Path        string
	SelectedTTL time.Duration
	GapLimit    uint32
}

// SQLiteStore persists the ledger in a sqlite database. Selected-as-input
// marks are deliberately kept in process memory only: they are transient
// advisory state and must not survive a restart.
type SQLiteStore struct {
	db       *sql.DB
	selected *expirable.LRU[string, struct{}]
	gapLimit uint32
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at opts.Path.
func NewSQLiteStore(opts SQLiteStoreOpts) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening sqlite store")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error creating schema")
	}
	ttl := opts.SelectedTTL
	if ttl <= 0 {
		ttl = DefaultSelectedTTL
	}
	gap := opts.GapLimit
	if gap == 0 {
		gap = 20
	}
	return &SQLiteStore{
		db:       db,
		selected: expirable.NewLRU[string, struct{}](maxSelectedMarks, nil, ttl),
		gapLimit: gap,
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveAddress(ctx context.Context, info *AddressInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO addresses(bip32_index, address) VALUES(?, ?)
		 ON CONFLICT(bip32_index) DO UPDATE SET address = excluded.address`,
		info.Index, info.Address)
	return errors.Wrap(err, "error saving address")
}

func (s *SQLiteStore) GetAddress(ctx context.Context, base58 string) (*AddressInfo, error) {
	var info AddressInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT bip32_index, address FROM addresses WHERE address = ?`, base58).
		Scan(&info.Index, &info.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("address")
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading address")
	}
	return &info, nil
}

func (s *SQLiteStore) GetAddressAtIndex(ctx context.Context, index uint32) (*AddressInfo, error) {
	var info AddressInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT bip32_index, address FROM addresses WHERE bip32_index = ?`, index).
		Scan(&info.Index, &info.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("address index")
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading address")
	}
	return &info, nil
}

func (s *SQLiteStore) AddressCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses`).Scan(&count)
	return count, errors.Wrap(err, "error counting addresses")
}

func (s *SQLiteStore) GetAddressMetadata(ctx context.Context, base58 string) (*AddressMetadata, error) {
	meta := &AddressMetadata{}
	if err := s.getJSON(ctx, `SELECT data FROM address_meta WHERE address = ?`, base58, meta, "address metadata"); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *SQLiteStore) SaveAddressMetadata(ctx context.Context, base58 string, meta *AddressMetadata) error {
	return s.putJSON(ctx,
		`INSERT INTO address_meta(address, data) VALUES(?, ?)
		 ON CONFLICT(address) DO UPDATE SET data = excluded.data`, base58, meta)
}

func (s *SQLiteStore) GetTokenMetadata(ctx context.Context, token string) (*TokenMetadata, error) {
	meta := &TokenMetadata{}
	if err := s.getJSON(ctx, `SELECT data FROM token_meta WHERE token = ?`, token, meta, "token metadata"); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *SQLiteStore) SaveTokenMetadata(ctx context.Context, token string, meta *TokenMetadata) error {
	return s.putJSON(ctx,
		`INSERT INTO token_meta(token, data) VALUES(?, ?)
		 ON CONFLICT(token) DO UPDATE SET data = excluded.data`, token, meta)
}

func (s *SQLiteStore) ForEachTokenMetadata(ctx context.Context, fn func(string, *TokenMetadata) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT token, data FROM token_meta`)
	if err != nil {
		return errors.Wrap(err, "error listing token metadata")
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		var raw []byte
		if err := rows.Scan(&token, &raw); err != nil {
			return errors.Wrap(err, "error scanning token metadata")
		}
		meta := &TokenMetadata{}
		if err := json.Unmarshal(raw, meta); err != nil {
			return errors.Wrap(err, "error decoding token metadata")
		}
		if err := fn(token, meta); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "error iterating token metadata")
}

func (s *SQLiteStore) ClearMetadata(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM address_meta`,
		`DELETE FROM token_meta`,
		`DELETE FROM utxos`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "error clearing metadata")
		}
	}
	return nil
}

func (s *SQLiteStore) GetTokenConfig(ctx context.Context, uid string) (*TokenConfig, error) {
	cfg := &TokenConfig{}
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, name, symbol FROM token_config WHERE uid = ?`, uid).
		Scan(&cfg.UID, &cfg.Name, &cfg.Symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("token config")
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading token config")
	}
	return cfg, nil
}

func (s *SQLiteStore) SaveTokenConfig(ctx context.Context, cfg *TokenConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_config(uid, name, symbol) VALUES(?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET name = excluded.name, symbol = excluded.symbol`,
		cfg.UID, cfg.Name, cfg.Symbol)
	return errors.Wrap(err, "error saving token config")
}

func (s *SQLiteStore) SaveUTXO(ctx context.Context, u *UTXO) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utxos(id, tx_id, idx, token, address, value, authorities, timelock, height, locked)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT locked FROM utxos WHERE id = ?), 0))
		 ON CONFLICT(id) DO UPDATE SET
			token = excluded.token, address = excluded.address, value = excluded.value,
			authorities = excluded.authorities, timelock = excluded.timelock, height = excluded.height`,
		u.ID(), u.TxID, u.Index, u.Token, u.Address,
		int64(u.Value), int64(u.Authorities), u.Timelock, u.Height, u.ID())
	return errors.Wrap(err, "error saving utxo")
}

func (s *SQLiteStore) DeleteUTXO(ctx context.Context, txID string, index uint8) error {
	id := UtxoID(txID, index)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM utxos WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "error deleting utxo")
	}
	s.selected.Remove(id)
	return nil
}

func (s *SQLiteStore) ForEachUTXO(ctx context.Context, fn func(*UTXO) (bool, error)) error {
	return s.iterUtxos(ctx, `SELECT tx_id, idx, token, address, value, authorities, timelock, height FROM utxos`,
		func(u *UTXO) (bool, error) { return fn(u) })
}

func (s *SQLiteStore) SaveLockedUTXO(ctx context.Context, u *UTXO) error {
	if err := s.SaveUTXO(ctx, u); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE utxos SET locked = 1 WHERE id = ?`, u.ID())
	return errors.Wrap(err, "error locking utxo")
}

func (s *SQLiteStore) UnlockUTXO(ctx context.Context, txID string, index uint8) error {
	_, err := s.db.ExecContext(ctx, `UPDATE utxos SET locked = 0 WHERE id = ?`, UtxoID(txID, index))
	return errors.Wrap(err, "error unlocking utxo")
}

func (s *SQLiteStore) ForEachLockedUTXO(ctx context.Context, fn func(*UTXO) error) error {
	return s.iterUtxos(ctx,
		`SELECT tx_id, idx, token, address, value, authorities, timelock, height FROM utxos WHERE locked = 1`,
		func(u *UTXO) (bool, error) { return false, fn(u) })
}

func (s *SQLiteStore) iterUtxos(ctx context.Context, query string, fn func(*UTXO) (bool, error)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "error listing utxos")
	}
	defer rows.Close()
	for rows.Next() {
		var u UTXO
		var value, authorities int64
		if err := rows.Scan(&u.TxID, &u.Index, &u.Token, &u.Address, &value, &authorities, &u.Timelock, &u.Height); err != nil {
			return errors.Wrap(err, "error scanning utxo")
		}
		u.Value = txcodec.Amount(value)
		u.Authorities = uint64(authorities)
		stop, err := fn(&u)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return errors.Wrap(rows.Err(), "error iterating utxos")
}

func (s *SQLiteStore) IsUtxoSelected(_ context.Context, utxoID string) (bool, error) {
	return s.selected.Contains(utxoID), nil
}

func (s *SQLiteStore) SetUtxoSelected(_ context.Context, utxoID string, selected bool) error {
	if selected {
		s.selected.Add(utxoID, struct{}{})
	} else {
		s.selected.Remove(utxoID)
	}
	return nil
}

func (s *SQLiteStore) AddTx(ctx context.Context, tx *HistoryTx) (bool, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return false, errors.Wrap(err, "error encoding transaction")
	}
	var existing []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM history WHERE tx_id = ?`, tx.TxID).Scan(&existing)
	if err == nil && bytes.Equal(existing, raw) {
		return false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrap(err, "error loading transaction")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history(tx_id, data) VALUES(?, ?)
		 ON CONFLICT(tx_id) DO UPDATE SET data = excluded.data`, tx.TxID, raw)
	if err != nil {
		return false, errors.Wrap(err, "error saving transaction")
	}
	return true, nil
}

func (s *SQLiteStore) GetTx(ctx context.Context, txID string) (*HistoryTx, error) {
	tx := &HistoryTx{}
	if err := s.getJSON(ctx, `SELECT data FROM history WHERE tx_id = ?`, txID, tx, "transaction"); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *SQLiteStore) ForEachTx(ctx context.Context, fn func(*HistoryTx) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM history ORDER BY seq`)
	if err != nil {
		return errors.Wrap(err, "error listing history")
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return errors.Wrap(err, "error scanning transaction")
		}
		tx := &HistoryTx{}
		if err := json.Unmarshal(raw, tx); err != nil {
			return errors.Wrap(err, "error decoding transaction")
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "error iterating history")
}

func (s *SQLiteStore) TxCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&count)
	return count, errors.Wrap(err, "error counting history")
}

func (s *SQLiteStore) GetWalletData(ctx context.Context) (*WalletData, error) {
	data := &WalletData{}
	err := s.getJSON(ctx, `SELECT data FROM wallet_data WHERE k = ?`, "wallet", data, "wallet data")
	if IsNotFound(err) {
		return NewWalletData(s.gapLimit), nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *SQLiteStore) SaveWalletData(ctx context.Context, data *WalletData) error {
	return s.putJSON(ctx,
		`INSERT INTO wallet_data(k, data) VALUES(?, ?)
		 ON CONFLICT(k) DO UPDATE SET data = excluded.data`, "wallet", data)
}

func (s *SQLiteStore) BestHeight(ctx context.Context) (uint32, error) {
	var height uint32
	err := s.getJSON(ctx, `SELECT data FROM wallet_data WHERE k = ?`, "best_height", &height, "best height")
	if IsNotFound(err) {
		return 0, nil
	}
	return height, err
}

func (s *SQLiteStore) SetBestHeight(ctx context.Context, height uint32) error {
	return s.putJSON(ctx,
		`INSERT INTO wallet_data(k, data) VALUES(?, ?)
		 ON CONFLICT(k) DO UPDATE SET data = excluded.data`, "best_height", height)
}

func (s *SQLiteStore) getJSON(ctx context.Context, query string, key, dst interface{}, what string) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound(what)
	}
	if err != nil {
		return errors.Wrapf(err, "error loading %s", what)
	}
	return errors.Wrapf(json.Unmarshal(raw, dst), "error decoding %s", what)
}

func (s *SQLiteStore) putJSON(ctx context.Context, query string, key, src interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return errors.Wrap(err, "error encoding value")
	}
	_, err = s.db.ExecContext(ctx, query, key, raw)
	return errors.Wrap(err, "error saving value")
}
