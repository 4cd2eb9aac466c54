package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"audiovault/internal/domain"
	"audiovault/internal/service/s3"
)

// fakeAccountStore serializes debits under a mutex, mirroring the row lock
// the Postgres store takes.
type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	entries  []domain.LedgerEntry
	nextID   int64

	getErr        error
	failDebitWith error
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]*domain.Account)}
}

func (s *fakeAccountStore) seed(accountID string, balance, used, quota int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = &domain.Account{
		ID:           accountID,
		Balance:      balance,
		StorageUsed:  used,
		StorageQuota: quota,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func (s *fakeAccountStore) get(accountID string) *domain.Account {
	account, ok := s.accounts[accountID]
	if !ok {
		account = &domain.Account{
			ID:           accountID,
			Balance:      100,
			StorageQuota: 500 * 1024 * 1024,
		}
		s.accounts[accountID] = account
	}
	return account
}

func (s *fakeAccountStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}

	copied := *s.get(accountID)
	return &copied, nil
}

func (s *fakeAccountStore) Debit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failDebitWith != nil {
		return nil, s.failDebitWith
	}

	account := s.get(accountID)
	if account.Balance < amount {
		return nil, &domain.InsufficientBalanceError{
			AccountID: accountID,
			Attempted: amount,
			Balance:   account.Balance,
		}
	}

	account.Balance -= amount
	return s.appendEntry(accountID, -amount, reason, account.Balance), nil
}

func (s *fakeAccountStore) Credit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := s.get(accountID)
	account.Balance += amount
	return s.appendEntry(accountID, amount, reason, account.Balance), nil
}

func (s *fakeAccountStore) appendEntry(accountID string, delta int64, reason string, resulting int64) *domain.LedgerEntry {
	s.nextID++
	entry := domain.LedgerEntry{
		ID:               s.nextID,
		AccountID:        accountID,
		Delta:            delta,
		Reason:           reason,
		ResultingBalance: resulting,
		CreatedAt:        time.Now(),
	}
	s.entries = append(s.entries, entry)
	return &entry
}

func (s *fakeAccountStore) History(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == accountID {
			entries = append(entries, s.entries[i])
		}
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *fakeAccountStore) UpdateQuotaLimit(ctx context.Context, accountID string, newLimit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	account.StorageQuota = newLimit
	return nil
}

func (s *fakeAccountStore) adjustUsed(accountID string, delta int64) {
	account := s.get(accountID)
	account.StorageUsed += delta
	if account.StorageUsed < 0 {
		account.StorageUsed = 0
	}
}

func (s *fakeAccountStore) ledgerEntries(accountID string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	return entries
}

// fakeRegistryStore shares the account store so storage_used moves with
// every row mutation, like the production transaction does.
type fakeRegistryStore struct {
	mu       sync.Mutex
	rows     map[int64]*domain.RegistryRow
	nextID   int64
	accounts *fakeAccountStore

	registerFailures int
	replaceSlotErr   error
}

func newFakeRegistryStore(accounts *fakeAccountStore) *fakeRegistryStore {
	return &fakeRegistryStore{
		rows:     make(map[int64]*domain.RegistryRow),
		accounts: accounts,
	}
}

func (s *fakeRegistryStore) Register(ctx context.Context, row *domain.RegistryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registerFailures > 0 {
		s.registerFailures--
		return fmt.Errorf("%w: simulated collision", domain.ErrRegistryConflict)
	}

	for _, existing := range s.rows {
		if existing.ObjectPath == row.ObjectPath && existing.Status == domain.RowActive {
			return fmt.Errorf("%w: object_path %s", domain.ErrRegistryConflict, row.ObjectPath)
		}
	}

	s.nextID++
	row.ID = s.nextID
	row.Status = domain.RowActive
	row.CreatedAt = time.Now()
	stored := *row
	s.rows[row.ID] = &stored

	s.accounts.mu.Lock()
	s.accounts.adjustUsed(row.AccountID, row.SizeBytes)
	s.accounts.mu.Unlock()

	return nil
}

func (s *fakeRegistryStore) MarkDeleted(ctx context.Context, rowID int64) (*domain.RegistryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowID]
	if !ok || row.Status != domain.RowActive {
		return nil, fmt.Errorf("active registry row %d not found", rowID)
	}

	row.Status = domain.RowDeleted

	s.accounts.mu.Lock()
	s.accounts.adjustUsed(row.AccountID, -row.SizeBytes)
	s.accounts.mu.Unlock()

	copied := *row
	return &copied, nil
}

func (s *fakeRegistryStore) ReplaceSlot(ctx context.Context, accountID, containerRef string, keepRowID int64) ([]domain.RegistryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replaceSlotErr != nil {
		return nil, s.replaceSlotErr
	}

	var replaced []domain.RegistryRow
	for _, row := range s.rows {
		if row.ID == keepRowID {
			continue
		}
		if row.AccountID == accountID && row.ContainerRef == containerRef && row.Status == domain.RowActive {
			row.Status = domain.RowDeleted
			s.accounts.mu.Lock()
			s.accounts.adjustUsed(accountID, -row.SizeBytes)
			s.accounts.mu.Unlock()
			replaced = append(replaced, *row)
		}
	}
	return replaced, nil
}

func (s *fakeRegistryStore) GetByID(ctx context.Context, rowID int64) (*domain.RegistryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowID]
	if !ok {
		return nil, fmt.Errorf("registry row %d not found", rowID)
	}
	copied := *row
	return &copied, nil
}

func (s *fakeRegistryStore) ListActive(ctx context.Context, accountID string) ([]domain.RegistryRow, error) {
	return s.listActive(accountID, ""), nil
}

func (s *fakeRegistryStore) ListActiveByContainer(ctx context.Context, accountID, containerRef string) ([]domain.RegistryRow, error) {
	return s.listActive(accountID, containerRef), nil
}

func (s *fakeRegistryStore) listActive(accountID, containerPrefix string) []domain.RegistryRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.RegistryRow
	for _, row := range s.rows {
		if row.AccountID != accountID || row.Status != domain.RowActive {
			continue
		}
		if containerPrefix != "" && !strings.HasPrefix(row.ContainerRef, containerPrefix) {
			continue
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ContainerRef != rows[j].ContainerRef {
			return rows[i].ContainerRef < rows[j].ContainerRef
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func (s *fakeRegistryStore) ListOrphans(ctx context.Context, limit int) ([]domain.RegistryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.RegistryRow
	for _, row := range s.rows {
		if row.Status == domain.RowDeleted && row.PurgedAt == nil {
			rows = append(rows, *row)
		}
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (s *fakeRegistryStore) MarkPurged(ctx context.Context, rowID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowID]
	if !ok || row.Status != domain.RowDeleted {
		return fmt.Errorf("deleted registry row %d not found", rowID)
	}
	now := time.Now()
	row.PurgedAt = &now
	return nil
}

func (s *fakeRegistryStore) Recalculate(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, row := range s.rows {
		if row.AccountID == accountID && row.Status == domain.RowActive {
			total += row.SizeBytes
		}
	}

	s.accounts.mu.Lock()
	s.accounts.get(accountID).StorageUsed = total
	s.accounts.mu.Unlock()

	return nil
}

func (s *fakeRegistryStore) activeRows(accountID string) []domain.RegistryRow {
	return s.listActive(accountID, "")
}

// fakeObjectStore implements s3.Storage in memory.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	putCalls    int
	putFailures int
	deleteErr   error
	signCalls   int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putCalls++
	if s.putFailures > 0 {
		s.putFailures--
		return fmt.Errorf("%w: simulated outage", domain.ErrObjectStoreUnavailable)
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.objects[key] = payload
	return nil
}

func (s *fakeObjectStore) Get(ctx context.Context, key string) (s3.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return &fakeObject{
		ReadCloser: io.NopCloser(bytes.NewReader(payload)),
		size:       int64(len(payload)),
	}, nil
}

func (s *fakeObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeObjectStore) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("object not found: %s", key)
	}
	s.signCalls++
	return fmt.Sprintf("https://signed.example/%s?exp=%d&n=%d", key, int64(ttl.Seconds()), s.signCalls), nil
}

func (s *fakeObjectStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeObjectStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeObject struct {
	io.ReadCloser
	size int64
}

func (o *fakeObject) ContentLength() int64 { return o.size }
func (o *fakeObject) ContentType() string  { return "audio/mpeg" }
