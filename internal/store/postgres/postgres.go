package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a SERIALIZABLE transaction. Serialization failures surface
// as store.ErrConflict so the caller can retry with fresh reads.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, userID string, id string) (*domain.Product, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, id, userID)
	product, err := scanProduct(row)
	if err != nil {
		return nil, mapError(err)
	}
	return product, nil
}

func (t *pgTx) UpdateProductIfVersion(ctx context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	return updateProductIfVersion(ctx, t.tx, product, expectedVersion)
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.UserID == "" || sale.ProductID == "" || sale.Units <= 0 {
		return nil, store.Invalid("sale", "missing owner, product or units")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	var newCost decimal.NullDecimal
	if sale.NewCost != nil {
		newCost = decimal.NullDecimal{Decimal: *sale.NewCost, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, user_id, product_id, product_name, units,
			sell_price, cost, new_cost, profit, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.UserID, sale.ProductID, sale.ProductName, sale.Units,
		sale.SellPrice, sale.Cost, newCost, sale.Profit, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	created := sale
	return &created, nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, userID string, id string) (*domain.Sale, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, id, userID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, mapError(err)
	}
	return sale, nil
}

func (t *pgTx) FindSaleByIdempotency(ctx context.Context, userID string, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key)
	sale, err := scanSale(row)
	if err == nil {
		return sale, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err)
	}

	var retired bool
	if err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM retired_idempotency_keys WHERE user_id = $1 AND idempotency_key = $2
		)
	`, userID, key).Scan(&retired); err != nil {
		return nil, mapError(err)
	}
	if retired {
		return nil, store.ErrKeyRetired
	}
	return nil, store.ErrNotFound
}

// DeleteSale removes the sale and keeps its idempotency key as a tombstone so
// a late retry cannot record the sale again.
func (t *pgTx) DeleteSale(ctx context.Context, userID string, id string) error {
	var key sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		DELETE FROM sales WHERE id = $1 AND user_id = $2
		RETURNING idempotency_key
	`, id, userID).Scan(&key)
	if err != nil {
		return mapError(err)
	}
	if !key.Valid || key.String == "" {
		return nil
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO retired_idempotency_keys (user_id, idempotency_key, sale_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`, userID, key.String, id)
	return mapError(err)
}

func (t *pgTx) ClearLinkFolder(ctx context.Context, userID string, folderID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE links
		SET folder_id = NULL
		WHERE user_id = $1 AND folder_id = $2
	`, userID, folderID)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return int(affected), nil
}

func (t *pgTx) DeleteLinkFolder(ctx context.Context, userID string, folderID string) error {
	return execAffectingOne(ctx, t.tx, `DELETE FROM link_folders WHERE id = $1 AND user_id = $2`, folderID, userID)
}

const productColumns = `id, user_id, name, type, quantity, cost, price, profit, image_url, version, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var imageURL sql.NullString
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Type, &p.Quantity, &p.Cost, &p.Price, &p.Profit, &imageURL, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ImageURL = imageURL.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + productColumns + ` FROM products WHERE user_id = $1`)
	args := []any{filter.UserID}

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		fmt.Fprintf(&query, ` AND name ILIKE $%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		fmt.Fprintf(&query, ` AND type = $%d`, len(args))
	}
	if filter.HideOutOfStock {
		query.WriteString(` AND quantity > 0`)
	}
	if filter.HideLowStock {
		args = append(args, domain.LowStockThreshold)
		fmt.Fprintf(&query, ` AND quantity >= $%d`, len(args))
	}
	query.WriteString(` ORDER BY ` + productOrder(filter.Sort, filter.Descending) + `, id ASC`)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapError(err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.UserID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.Invalid("product", "owner and name are required")
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt
	product.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, user_id, name, type, quantity, cost, price, profit, image_url, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.UserID, product.Name, product.Type, product.Quantity, product.Cost, product.Price,
		product.Profit, nullIfEmpty(product.ImageURL), product.Version, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, userID string, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	product, err := scanProduct(row)
	if err != nil {
		return nil, mapError(err)
	}
	return product, nil
}

func (s *Store) UpdateProductIfVersion(ctx context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	return updateProductIfVersion(ctx, s.db, product, expectedVersion)
}

func updateProductIfVersion(ctx context.Context, q querier, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	if product.Quantity < 0 {
		return nil, fmt.Errorf("%w: product %s would go below zero", store.ErrInsufficientStock, product.ID)
	}

	err := q.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, type = $4, quantity = $5, cost = $6, price = $7, profit = $8,
			image_url = $9, version = version + 1, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND version = $10
		RETURNING version, created_at, updated_at
	`, product.ID, product.UserID, product.Name, product.Type, product.Quantity, product.Cost, product.Price,
		product.Profit, nullIfEmpty(product.ImageURL), expectedVersion).Scan(&product.Version, &product.CreatedAt, &product.UpdatedAt)
	if err == nil {
		product.CreatedAt = product.CreatedAt.UTC()
		product.UpdatedAt = product.UpdatedAt.UTC()
		return &product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err)
	}

	var current int64
	err = q.QueryRowContext(ctx, `SELECT version FROM products WHERE id = $1 AND user_id = $2`, product.ID, product.UserID).Scan(&current)
	if err != nil {
		return nil, mapError(err)
	}
	return nil, fmt.Errorf("%w: product %s is at version %d, expected %d", store.ErrConflict, product.ID, current, expectedVersion)
}

func (s *Store) DeleteProduct(ctx context.Context, userID string, id string) error {
	return execAffectingOne(ctx, s.db, `DELETE FROM products WHERE id = $1 AND user_id = $2`, id, userID)
}

const saleColumns = `id, user_id, product_id, product_name, units, sell_price, cost, new_cost, profit, idempotency_key, created_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var newCost decimal.NullDecimal
	var idem sql.NullString
	if err := row.Scan(&sale.ID, &sale.UserID, &sale.ProductID, &sale.ProductName, &sale.Units, &sale.SellPrice,
		&sale.Cost, &newCost, &sale.Profit, &idem, &sale.CreatedAt); err != nil {
		return nil, err
	}
	if newCost.Valid {
		cost := newCost.Decimal
		sale.NewCost = &cost
	}
	sale.IdempotencyKey = idem.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + saleColumns + ` FROM sales WHERE user_id = $1`)
	args := []any{filter.UserID}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		fmt.Fprintf(&query, ` AND product_id = $%d`, len(args))
	}
	query.WriteString(` ORDER BY created_at DESC, id ASC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, ` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&query, ` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, mapError(err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, userID string, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, mapError(err)
	}
	return sale, nil
}

func (s *Store) ListFolders(ctx context.Context, userID string) ([]domain.LinkFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, color, created_at
		FROM link_folders
		WHERE user_id = $1
		ORDER BY name ASC, id ASC
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	folders := make([]domain.LinkFolder, 0, 8)
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, mapError(err)
		}
		folders = append(folders, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return folders, nil
}

func scanFolder(row rowScanner) (*domain.LinkFolder, error) {
	var f domain.LinkFolder
	var description sql.NullString
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &description, &f.Color, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Description = description.String
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func (s *Store) GetFolder(ctx context.Context, userID string, id string) (*domain.LinkFolder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, color, created_at
		FROM link_folders
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	f, err := scanFolder(row)
	if err != nil {
		return nil, mapError(err)
	}
	return f, nil
}

func (s *Store) CreateFolder(ctx context.Context, folder domain.LinkFolder) (*domain.LinkFolder, error) {
	if folder.ID == "" {
		folder.ID = xid.New("fld")
	}
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_folders (id, user_id, name, description, color, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, folder.ID, folder.UserID, folder.Name, nullIfEmpty(folder.Description), folder.Color, folder.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := folder
	return &created, nil
}

func (s *Store) UpdateFolder(ctx context.Context, folder domain.LinkFolder) (*domain.LinkFolder, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE link_folders
		SET name = $3, description = $4, color = $5
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, name, description, color, created_at
	`, folder.ID, folder.UserID, folder.Name, nullIfEmpty(folder.Description), folder.Color)
	updated, err := scanFolder(row)
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func scanLink(row rowScanner) (*domain.Link, error) {
	var l domain.Link
	var folderID sql.NullString
	if err := row.Scan(&l.ID, &l.UserID, &l.Name, &l.URL, &folderID, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.FolderID = folderID.String
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func (s *Store) ListLinks(ctx context.Context, filter domain.LinkFilter) ([]domain.Link, error) {
	query := `SELECT id, user_id, name, url, folder_id, created_at FROM links WHERE user_id = $1`
	args := []any{filter.UserID}
	switch {
	case filter.Uncategorized:
		query += ` AND folder_id IS NULL`
	case filter.FolderID != "":
		args = append(args, filter.FolderID)
		query += ` AND folder_id = $2`
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	links := make([]domain.Link, 0, 16)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, mapError(err)
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return links, nil
}

func (s *Store) CreateLink(ctx context.Context, link domain.Link) (*domain.Link, error) {
	if err := s.checkFolder(ctx, link.UserID, link.FolderID); err != nil {
		return nil, err
	}
	if link.ID == "" {
		link.ID = xid.New("lnk")
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO links (id, user_id, name, url, folder_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, link.ID, link.UserID, link.Name, link.URL, nullIfEmpty(link.FolderID), link.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := link
	return &created, nil
}

func (s *Store) UpdateLink(ctx context.Context, link domain.Link) (*domain.Link, error) {
	if err := s.checkFolder(ctx, link.UserID, link.FolderID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE links
		SET name = $3, url = $4, folder_id = $5
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, name, url, folder_id, created_at
	`, link.ID, link.UserID, link.Name, link.URL, nullIfEmpty(link.FolderID))
	updated, err := scanLink(row)
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteLink(ctx context.Context, userID string, id string) error {
	return execAffectingOne(ctx, s.db, `DELETE FROM links WHERE id = $1 AND user_id = $2`, id, userID)
}

func (s *Store) checkFolder(ctx context.Context, userID string, folderID string) error {
	if folderID == "" {
		return nil
	}
	if _, err := s.GetFolder(ctx, userID, folderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Invalid("folder_id", "unknown folder")
		}
		return err
	}
	return nil
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var n domain.Note
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return &n, nil
}

func (s *Store) ListNotes(ctx context.Context, userID string) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, content, created_at, updated_at
		FROM notes
		WHERE user_id = $1
		ORDER BY updated_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	notes := make([]domain.Note, 0, 8)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, mapError(err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return notes, nil
}

func (s *Store) CreateNote(ctx context.Context, note domain.Note) (*domain.Note, error) {
	if note.ID == "" {
		note.ID = xid.New("note")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = note.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, note.ID, note.UserID, note.Title, note.Content, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := note
	return &created, nil
}

func (s *Store) UpdateNote(ctx context.Context, note domain.Note) (*domain.Note, error) {
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE notes
		SET title = $3, content = $4, updated_at = $5
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, title, content, created_at, updated_at
	`, note.ID, note.UserID, note.Title, note.Content, note.UpdatedAt)
	updated, err := scanNote(row)
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteNote(ctx context.Context, userID string, id string) error {
	return execAffectingOne(ctx, s.db, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, id, userID)
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var p domain.Profile
	var avatar sql.NullString
	if err := row.Scan(&p.UserID, &p.FullName, &avatar, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AvatarURL = avatar.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, full_name, avatar_url, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile domain.Profile) (*domain.Profile, error) {
	if profile.UserID == "" {
		return nil, store.Invalid("user_id", "is required")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_profiles (user_id, full_name, avatar_url, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		ON CONFLICT (user_id)
		DO UPDATE SET full_name = EXCLUDED.full_name, avatar_url = EXCLUDED.avatar_url, updated_at = now()
		RETURNING user_id, full_name, avatar_url, created_at, updated_at
	`, profile.UserID, profile.FullName, nullIfEmpty(profile.AvatarURL))
	saved, err := scanProfile(row)
	if err != nil {
		return nil, mapError(err)
	}
	return saved, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "and password are required")
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.ID, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "is required")
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
}

func execAffectingOne(ctx context.Context, q querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func productOrder(sortKey domain.ProductSort, descending bool) string {
	column := "created_at"
	direction := "DESC"
	switch sortKey {
	case domain.SortName:
		column, direction = "lower(name)", "ASC"
	case domain.SortQuantity:
		column, direction = "quantity", "ASC"
	case domain.SortPrice:
		column, direction = "price", "ASC"
	case domain.SortCost:
		column, direction = "cost", "ASC"
	}
	if descending {
		if direction == "ASC" {
			direction = "DESC"
		} else {
			direction = "ASC"
		}
	}
	return column + " " + direction
}

// mapError translates driver errors into the store error taxonomy. Errors that
// already carry a store sentinel pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrValidation) ||
		errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrStorage) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: duplicate %s", store.ErrConflict, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.ConstraintName)
		case "23503":
			return store.Invalid(pgErr.ColumnName, "references a missing record")
		}
	}
	return fmt.Errorf("%w: %w", store.ErrStorage, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func escapeLike(val string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(val)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
