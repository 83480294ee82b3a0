package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the durable backing
// store. Monetary columns are NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id BIGINT PRIMARY KEY,
			item TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id BIGINT PRIMARY KEY,
			seller TEXT NOT NULL,
			item BIGINT NOT NULL,
			amount INT NOT NULL,
			price NUMERIC NOT NULL,
			region TEXT NOT NULL,
			time BIGINT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS mail (
			id BIGINT PRIMARY KEY,
			owner TEXT NOT NULL,
			item BIGINT NOT NULL,
			amount INT NOT NULL,
			sender TEXT NOT NULL,
			region TEXT NOT NULL,
			pickup NUMERIC NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS queue (
			id BIGINT PRIMARY KEY,
			data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS users (
			name TEXT NOT NULL UNIQUE,
			earned NUMERIC NOT NULL,
			spent NUMERIC NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS history (
			id BIGSERIAL PRIMARY KEY,
			player TEXT NOT NULL,
			action TEXT NOT NULL,
			who TEXT NOT NULL,
			item BIGINT NOT NULL,
			amount INT NOT NULL,
			price NUMERIC NOT NULL,
			time BIGINT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// --- Bulk loads ---

func (s *PostgresStore) LoadListings(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seller, item, amount, price::TEXT, region, time
		 FROM listings ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		var l model.Listing
		var price string
		if err := rows.Scan(&l.ID, &l.Seller, &l.ItemID, &l.Amount, &price, &l.Region, &l.Time); err != nil {
			return nil, err
		}
		l.Price, _ = decimal.NewFromString(price)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) LoadMail(ctx context.Context) ([]model.Mail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, item, amount, sender, region, pickup::TEXT
		 FROM mail ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mail []model.Mail
	for rows.Next() {
		var m model.Mail
		var pickup string
		if err := rows.Scan(&m.ID, &m.Owner, &m.ItemID, &m.Amount, &m.Sender, &m.Region, &pickup); err != nil {
			return nil, err
		}
		m.Pickup, _ = decimal.NewFromString(pickup)
		mail = append(mail, m)
	}
	return mail, rows.Err()
}

func (s *PostgresStore) LoadQueue(ctx context.Context) ([]QueueRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, data FROM queue ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var r QueueRow
		if err := rows.Scan(&r.ID, &r.Data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadItems(ctx context.Context, ids []int) ([]ItemRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, item FROM items WHERE id = ANY($1) ORDER BY id ASC`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var r ItemRow
		if err := rows.Scan(&r.ID, &r.Data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MaxItemID(ctx context.Context) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM items`).Scan(&max)
	return max, err
}

// --- Items ---

func (s *PostgresStore) InsertItem(ctx context.Context, id int, data string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (id, item) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, data)
	return err
}

func (s *PostgresStore) UpdateItem(ctx context.Context, id int, data string) error {
	_, err := s.pool.Exec(ctx, `UPDATE items SET item = $2 WHERE id = $1`, id, data)
	return err
}

// --- Listings ---

func (s *PostgresStore) InsertListing(ctx context.Context, l model.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (id, seller, item, amount, price, region, time)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		l.ID, l.Seller, l.ItemID, l.Amount, l.Price.String(), l.Region, l.Time)
	return err
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return err
}

// --- Mail ---

func (s *PostgresStore) InsertMail(ctx context.Context, m model.Mail) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mail (id, owner, item, amount, sender, region, pickup)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Owner, m.ItemID, m.Amount, m.Sender, m.Region, m.Pickup.String())
	return err
}

func (s *PostgresStore) DeleteMail(ctx context.Context, id int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mail WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) ClearMailPickup(ctx context.Context, id int) error {
	_, err := s.pool.Exec(ctx, `UPDATE mail SET pickup = 0 WHERE id = $1`, id)
	return err
}

// --- Recovery queue ---

func (s *PostgresStore) InsertQueueRow(ctx context.Context, id int, data string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queue (id, data) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, data)
	return err
}

func (s *PostgresStore) DeleteQueueRow(ctx context.Context, id int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue WHERE id = $1`, id)
	return err
}

// --- Users / history ---

func (s *PostgresStore) AddUserTotals(ctx context.Context, name string, earned, spent decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (name, earned, spent) VALUES ($1, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (name) DO UPDATE
		 SET earned = users.earned + EXCLUDED.earned,
		     spent = users.spent + EXCLUDED.spent`,
		name, earned.String(), spent.String())
	return err
}

func (s *PostgresStore) UserTotals(ctx context.Context, name string) (model.UserTotals, error) {
	var t model.UserTotals
	var earned, spent string
	err := s.pool.QueryRow(ctx,
		`SELECT name, earned::TEXT, spent::TEXT FROM users WHERE name = $1`, name).
		Scan(&t.Name, &earned, &spent)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserTotals{}, fmt.Errorf("user totals %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return model.UserTotals{}, err
	}
	t.Earned, _ = decimal.NewFromString(earned)
	t.Spent, _ = decimal.NewFromString(spent)
	return t, nil
}

func (s *PostgresStore) InsertHistory(ctx context.Context, h model.HistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO history (player, action, who, item, amount, price, time)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		h.Player, h.Action, h.Who, h.ItemID, h.Amount, h.Price.String(), h.Time)
	return err
}

func (s *PostgresStore) HistoryFor(ctx context.Context, player string, limit int) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player, action, who, item, amount, price::TEXT, time
		 FROM history WHERE player = $1 ORDER BY id DESC LIMIT $2`,
		player, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var h model.HistoryEntry
		var price string
		if err := rows.Scan(&h.ID, &h.Player, &h.Action, &h.Who, &h.ItemID, &h.Amount, &price, &h.Time); err != nil {
			return nil, err
		}
		h.Price, _ = decimal.NewFromString(price)
		out = append(out, h)
	}
	return out, rows.Err()
}
