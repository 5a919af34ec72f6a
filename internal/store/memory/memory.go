package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/xid"
)

const (
	SeedAdminID  = "usr_admin"
	SeedMemberID = "usr_member"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sales           map[string]domain.Sale
	salesByIdem     map[string]string
	folders         map[string]domain.LinkFolder
	links           map[string]domain.Link
	notes           map[string]domain.Note
	profiles        map[string]domain.Profile
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		sales:           make(map[string]domain.Sale),
		salesByIdem:     make(map[string]string),
		folders:         make(map[string]domain.LinkFolder),
		links:           make(map[string]domain.Link),
		notes:           make(map[string]domain.Note),
		profiles:        make(map[string]domain.Profile),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_MEMBER_PASSWORD; when
// unset, dev defaults are used and a warning is logged.
func seedUsers(logger *logrus.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	memberPwd := envOr("SEED_MEMBER_PASSWORD", "member123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MEMBER_PASSWORD") == "" {
		logger.WithField("module", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_MEMBER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{SeedAdminID, "admin", adminPwd, domain.RoleAdmin},
		{SeedMemberID, "member", memberPwd, domain.RoleMember},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.WithError(err).Fatalf("failed to hash seed password for %s", u.username)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo accounts and a small catalogue owned by
// the seeded admin.
func NewSeeded(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := New()
	s.usersByUsername = seedUsers(logger)

	now := time.Now().UTC()
	seed := []struct {
		name  string
		typ   string
		qty   int
		cost  string
		price string
	}{
		{"Scarlet & Violet Booster", "Booster Packs", 36, "3.10", "4.99"},
		{"Paldea Evolved Booster Box", "Booster Boxes", 4, "98.00", "144.00"},
		{"Obsidian Flames ETB", "Elite Trainer Boxes", 6, "38.50", "54.99"},
		{"Pokemon 151 Mini Tin", "Mini Tins", 2, "7.25", "12.00"},
		{"Charizard ex PSA 10", "Graded Cards", 1, "210.00", "325.00"},
		{"Pikachu Illustration Rare", "Single Cards", 0, "14.00", "22.50"},
	}
	for i, p := range seed {
		createdAt := now.Add(time.Duration(i-len(seed)) * time.Minute)
		product := domain.Product{
			ID:        xid.New("prd"),
			UserID:    SeedAdminID,
			Name:      p.name,
			Type:      p.typ,
			Quantity:  p.qty,
			Cost:      decimal.RequireFromString(p.cost),
			Price:     decimal.RequireFromString(p.price),
			Profit:    decimal.Zero,
			Version:   1,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		s.products[product.ID] = product
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memTx writes straight into the store maps while the store lock is held and
// records an undo step for every write.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetProductForUpdate(_ context.Context, userID string, id string) (*domain.Product, error) {
	return t.s.getProductLocked(userID, id)
}

func (t *memTx) UpdateProductIfVersion(_ context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	previous, ok := t.s.products[product.ID]
	updated, err := t.s.updateProductIfVersionLocked(product, expectedVersion)
	if err != nil {
		return nil, err
	}
	if ok {
		t.undo = append(t.undo, func() { t.s.products[previous.ID] = previous })
	}
	return updated, nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.UserID == "" || sale.ProductID == "" || sale.Units <= 0 {
		return nil, store.Invalid("sale", "missing owner, product or units")
	}
	if _, exists := t.s.sales[sale.ID]; exists {
		return nil, fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.ID)
	}
	idemKey := idempotencyKey(sale.UserID, sale.IdempotencyKey)
	if sale.IdempotencyKey != "" {
		if _, exists := t.s.salesByIdem[idemKey]; exists {
			return nil, fmt.Errorf("%w: idempotency key already used", store.ErrConflict)
		}
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	t.s.sales[sale.ID] = cloneSale(sale)
	t.undo = append(t.undo, func() { delete(t.s.sales, sale.ID) })
	if sale.IdempotencyKey != "" {
		t.s.salesByIdem[idemKey] = sale.ID
		t.undo = append(t.undo, func() { delete(t.s.salesByIdem, idemKey) })
	}

	created := cloneSale(sale)
	return &created, nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, userID string, id string) (*domain.Sale, error) {
	return t.s.getSaleLocked(userID, id)
}

func (t *memTx) FindSaleByIdempotency(_ context.Context, userID string, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	saleID, ok := t.s.salesByIdem[idempotencyKey(userID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, live := t.s.sales[saleID]; !live {
		return nil, store.ErrKeyRetired
	}
	return t.s.getSaleLocked(userID, saleID)
}

func (t *memTx) DeleteSale(_ context.Context, userID string, id string) error {
	sale, ok := t.s.sales[id]
	if !ok || sale.UserID != userID {
		return store.ErrNotFound
	}
	// the idempotency index entry stays behind as a tombstone
	delete(t.s.sales, id)
	t.undo = append(t.undo, func() { t.s.sales[id] = sale })
	return nil
}

func (t *memTx) ClearLinkFolder(_ context.Context, userID string, folderID string) (int, error) {
	moved := 0
	for id, link := range t.s.links {
		if link.UserID != userID || link.FolderID != folderID {
			continue
		}
		previous := link
		link.FolderID = ""
		t.s.links[id] = link
		t.undo = append(t.undo, func() { t.s.links[previous.ID] = previous })
		moved++
	}
	return moved, nil
}

func (t *memTx) DeleteLinkFolder(_ context.Context, userID string, folderID string) error {
	folder, ok := t.s.folders[folderID]
	if !ok || folder.UserID != userID {
		return store.ErrNotFound
	}
	delete(t.s.folders, folderID)
	t.undo = append(t.undo, func() { t.s.folders[folderID] = folder })
	return nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.UserID != filter.UserID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.HideOutOfStock && p.Quantity <= 0 {
			continue
		}
		if filter.HideLowStock && p.Quantity < domain.LowStockThreshold {
			continue
		}
		result = append(result, p)
	}

	slices.SortStableFunc(result, func(a, b domain.Product) int {
		cmp := compareProducts(a, b, filter.Sort)
		if filter.Descending {
			cmp = -cmp
		}
		if cmp == 0 {
			return cmpString(a.ID, b.ID)
		}
		return cmp
	})
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.UserID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.Invalid("product", "owner and name are required")
	}
	if product.Quantity < 0 {
		return nil, store.Invalid("quantity", "must not be negative")
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	product.Version = 1

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, userID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProductLocked(userID, id)
}

func (s *Store) UpdateProductIfVersion(_ context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateProductIfVersionLocked(product, expectedVersion)
}

func (s *Store) DeleteProduct(_ context.Context, userID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || p.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.UserID != filter.UserID {
			continue
		}
		if filter.ProductID != "" && sale.ProductID != filter.ProductID {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortStableFunc(result, func(a, b domain.Sale) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return cmpString(a.ID, b.ID)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Sale{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, userID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSaleLocked(userID, id)
}

func (s *Store) ListFolders(_ context.Context, userID string) ([]domain.LinkFolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LinkFolder, 0, 8)
	for _, f := range s.folders {
		if f.UserID == userID {
			result = append(result, f)
		}
	}
	slices.SortFunc(result, func(a, b domain.LinkFolder) int {
		if c := cmpString(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetFolder(_ context.Context, userID string, id string) (*domain.LinkFolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]
	if !ok || f.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *Store) CreateFolder(_ context.Context, folder domain.LinkFolder) (*domain.LinkFolder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if folder.ID == "" {
		folder.ID = xid.New("fld")
	}
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now().UTC()
	}
	s.folders[folder.ID] = folder
	created := folder
	return &created, nil
}

func (s *Store) UpdateFolder(_ context.Context, folder domain.LinkFolder) (*domain.LinkFolder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.folders[folder.ID]
	if !ok || existing.UserID != folder.UserID {
		return nil, store.ErrNotFound
	}
	existing.Name = folder.Name
	existing.Description = folder.Description
	existing.Color = folder.Color
	s.folders[folder.ID] = existing
	return &existing, nil
}

func (s *Store) ListLinks(_ context.Context, filter domain.LinkFilter) ([]domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Link, 0, 16)
	for _, l := range s.links {
		if l.UserID != filter.UserID {
			continue
		}
		if filter.Uncategorized && l.FolderID != "" {
			continue
		}
		if filter.FolderID != "" && l.FolderID != filter.FolderID {
			continue
		}
		result = append(result, l)
	}
	slices.SortFunc(result, func(a, b domain.Link) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) CreateLink(_ context.Context, link domain.Link) (*domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFolderLocked(link.UserID, link.FolderID); err != nil {
		return nil, err
	}
	if link.ID == "" {
		link.ID = xid.New("lnk")
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	s.links[link.ID] = link
	created := link
	return &created, nil
}

func (s *Store) UpdateLink(_ context.Context, link domain.Link) (*domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.links[link.ID]
	if !ok || existing.UserID != link.UserID {
		return nil, store.ErrNotFound
	}
	if err := s.checkFolderLocked(link.UserID, link.FolderID); err != nil {
		return nil, err
	}
	existing.Name = link.Name
	existing.URL = link.URL
	existing.FolderID = link.FolderID
	s.links[link.ID] = existing
	return &existing, nil
}

func (s *Store) DeleteLink(_ context.Context, userID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok || l.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.links, id)
	return nil
}

func (s *Store) ListNotes(_ context.Context, userID string) ([]domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Note, 0, 8)
	for _, n := range s.notes {
		if n.UserID == userID {
			result = append(result, n)
		}
	}
	slices.SortFunc(result, func(a, b domain.Note) int {
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return b.UpdatedAt.Compare(a.UpdatedAt)
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) CreateNote(_ context.Context, note domain.Note) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if note.ID == "" {
		note.ID = xid.New("note")
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = note.CreatedAt
	}
	s.notes[note.ID] = note
	created := note
	return &created, nil
}

func (s *Store) UpdateNote(_ context.Context, note domain.Note) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.notes[note.ID]
	if !ok || existing.UserID != note.UserID {
		return nil, store.ErrNotFound
	}
	existing.Title = note.Title
	existing.Content = note.Content
	existing.UpdatedAt = note.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = time.Now().UTC()
	}
	s.notes[note.ID] = existing
	return &existing, nil
}

func (s *Store) DeleteNote(_ context.Context, userID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpsertProfile(_ context.Context, profile domain.Profile) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.UserID == "" {
		return nil, store.Invalid("user_id", "is required")
	}
	now := time.Now().UTC()
	if existing, ok := s.profiles[profile.UserID]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	s.profiles[profile.UserID] = profile
	saved := profile
	return &saved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "and password are required")
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrConflict)
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
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	if strings.TrimSpace(password) == "" {
		return store.Invalid("password", "is required")
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) getProductLocked(userID string, id string) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok || p.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) updateProductIfVersionLocked(product domain.Product, expectedVersion int64) (*domain.Product, error) {
	existing, ok := s.products[product.ID]
	if !ok || existing.UserID != product.UserID {
		return nil, store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return nil, fmt.Errorf("%w: product %s is at version %d, expected %d", store.ErrConflict, product.ID, existing.Version, expectedVersion)
	}
	if product.Quantity < 0 {
		return nil, fmt.Errorf("%w: product %s would go below zero", store.ErrInsufficientStock, product.ID)
	}

	product.CreatedAt = existing.CreatedAt
	product.Version = expectedVersion + 1
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) getSaleLocked(userID string, id string) (*domain.Sale, error) {
	sale, ok := s.sales[id]
	if !ok || sale.UserID != userID {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) checkFolderLocked(userID string, folderID string) error {
	if folderID == "" {
		return nil
	}
	f, ok := s.folders[folderID]
	if !ok || f.UserID != userID {
		return store.Invalid("folder_id", "unknown folder")
	}
	return nil
}

func compareProducts(a domain.Product, b domain.Product, sortKey domain.ProductSort) int {
	switch sortKey {
	case domain.SortName:
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case domain.SortQuantity:
		return a.Quantity - b.Quantity
	case domain.SortPrice:
		return a.Price.Cmp(b.Price)
	case domain.SortCost:
		return a.Cost.Cmp(b.Cost)
	default:
		// newest first
		return b.CreatedAt.Compare(a.CreatedAt)
	}
}

func idempotencyKey(userID string, key string) string {
	return userID + "|" + key
}

func cmpString(a string, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	if src.NewCost != nil {
		cost := *src.NewCost
		dst.NewCost = &cost
	}
	return dst
}
