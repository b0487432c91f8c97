package services

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/channelads/backend/internal/ton"
	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

var errNotFound = errors.New("not found")

// --- in-memory stores ---

type memDeals struct {
	mu    sync.Mutex
	deals map[uuid.UUID]*models.Deal
	// invoked between GetByID and UpdateStatusCAS when set, to simulate a
	// concurrent writer
	onCAS func()
}

func newMemDeals() *memDeals {
	return &memDeals{deals: make(map[uuid.UUID]*models.Deal)}
}

func (m *memDeals) Create(_ context.Context, d *models.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	d.LastActivityAt = d.CreatedAt
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *memDeals) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDeals) UpdateStatusCAS(_ context.Context, id uuid.UUID, from, to statemachine.Status) (bool, error) {
	if m.onCAS != nil {
		m.onCAS()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.LastActivityAt = time.Now()
	d.UpdatedAt = d.LastActivityAt
	return true, nil
}

func (m *memDeals) UpdateBrief(_ context.Context, id uuid.UUID, brief *string, publishFrom, publishTo *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok || d.Status != statemachine.StatusDraft {
		return false, nil
	}
	d.Brief = brief
	d.PublishFrom = publishFrom
	d.PublishTo = publishTo
	return true, nil
}

func (m *memDeals) SetOwnerWallet(_ context.Context, id uuid.UUID, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[id]
	if !ok {
		return errNotFound
	}
	d.OwnerWalletAddress = &addr
	d.OwnerWalletConfirmed = true
	return nil
}

func (m *memDeals) ListByStatus(_ context.Context, status statemachine.Status, _ int) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Deal
	for _, d := range m.deals {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDeals) ListInactiveSince(_ context.Context, statuses []statemachine.Status, cutoff time.Time, _ int) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Deal
	for _, d := range m.deals {
		for _, s := range statuses {
			if d.Status == s && d.LastActivityAt.Before(cutoff) {
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

type memEscrows struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*models.Escrow // keyed by deal ID
}

func newMemEscrows() *memEscrows {
	return &memEscrows{escrows: make(map[uuid.UUID]*models.Escrow)}
}

func (m *memEscrows) Create(_ context.Context, e *models.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.escrows[e.DealID]; exists {
		return errors.New("escrow already exists")
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.escrows[e.DealID] = &cp
	return nil
}

func (m *memEscrows) GetByDealID(_ context.Context, dealID uuid.UUID) (*models.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[dealID]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEscrows) ListByState(_ context.Context, state string, _ int) ([]models.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Escrow
	for _, e := range m.escrows {
		if e.OnChainState == state {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memEscrows) MarkFunded(_ context.Context, dealID uuid.UUID, txHash, payerAddr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[dealID]
	if !ok || e.OnChainState != models.EscrowStateInit {
		return false, nil
	}
	e.OnChainState = models.EscrowStateFunded
	now := time.Now()
	e.FundedAt = &now
	e.DepositTxHash = &txHash
	if payerAddr != "" {
		e.AdvertiserAddress = payerAddr
	}
	return true, nil
}

func (m *memEscrows) MarkReleaseSubmitted(_ context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[dealID]
	if !ok || e.ReleaseSubmittedAt != nil || e.RefundSubmittedAt != nil {
		return false, nil
	}
	now := time.Now()
	e.ReleaseSubmittedAt = &now
	e.ReleaseTxHash = &txHash
	return true, nil
}

func (m *memEscrows) MarkRefundSubmitted(_ context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[dealID]
	if !ok || e.RefundSubmittedAt != nil || e.ReleaseSubmittedAt != nil {
		return false, nil
	}
	now := time.Now()
	e.RefundSubmittedAt = &now
	e.RefundTxHash = &txHash
	return true, nil
}

func (m *memEscrows) MarkReleased(_ context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[dealID]
	if !ok || e.OnChainState != models.EscrowStateFunded {
		return false, nil
	}
	e.OnChainState = models.EscrowStateReleased
	if txHash != "" {
		e.ReleaseTxHash = &txHash
	}
	return true, nil
}

func (m *memEscrows) MarkRefunded(_ context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[dealID]
	if !ok || e.OnChainState != models.EscrowStateFunded {
		return false, nil
	}
	e.OnChainState = models.EscrowStateRefunded
	if txHash != "" {
		e.RefundTxHash = &txHash
	}
	return true, nil
}

type memCreatives struct {
	mu       sync.Mutex
	versions map[uuid.UUID][]*models.CreativeVersion // keyed by deal ID
}

func newMemCreatives() *memCreatives {
	return &memCreatives{versions: make(map[uuid.UUID][]*models.CreativeVersion)}
}

func (m *memCreatives) CreateVersion(_ context.Context, c *models.CreativeVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.versions[c.DealID]
	for _, v := range list {
		v.IsCurrent = false
	}
	c.Version = len(list) + 1
	c.Status = models.CreativeStatusSubmitted
	c.IsCurrent = true
	c.CreatedAt = time.Now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.versions[c.DealID] = append(list, &cp)
	return nil
}

func (m *memCreatives) GetCurrent(_ context.Context, dealID uuid.UUID) (*models.CreativeVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[dealID] {
		if v.IsCurrent {
			cp := *v
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *memCreatives) ListByDeal(_ context.Context, dealID uuid.UUID) ([]models.CreativeVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CreativeVersion
	for _, v := range m.versions[dealID] {
		out = append(out, *v)
	}
	return out, nil
}

func (m *memCreatives) SetStatus(_ context.Context, id uuid.UUID, status string, feedback *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.versions {
		for _, v := range list {
			if v.ID == id {
				v.Status = status
				v.Feedback = feedback
				return nil
			}
		}
	}
	return errNotFound
}

type memPostings struct {
	mu       sync.Mutex
	postings map[uuid.UUID]*models.Posting // keyed by deal ID
}

func newMemPostings() *memPostings {
	return &memPostings{postings: make(map[uuid.UUID]*models.Posting)}
}

func (m *memPostings) Upsert(_ context.Context, p *models.Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.postings[p.DealID]; ok {
		existing.ScheduledAt = p.ScheduledAt
		existing.RetentionHours = p.RetentionHours
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		return nil
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.postings[p.DealID] = &cp
	return nil
}

func (m *memPostings) GetByDealID(_ context.Context, dealID uuid.UUID) (*models.Posting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[dealID]
	if !ok {
		return nil, errNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPostings) MarkPosted(_ context.Context, dealID uuid.UUID, chatID, messageID int64, postURL, contentHash string, postedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[dealID]
	if !ok || p.PostedAt != nil {
		return false, nil
	}
	p.TelegramChatID = &chatID
	p.TelegramMessageID = &messageID
	p.PostURL = &postURL
	p.ContentHash = &contentHash
	p.PostedAt = &postedAt
	return true, nil
}

func (m *memPostings) MarkVerified(_ context.Context, dealID uuid.UUID, retained bool, verificationError *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[dealID]
	if !ok || p.PostedAt == nil || p.VerifiedAt != nil {
		return false, nil
	}
	now := time.Now()
	p.VerifiedAt = &now
	p.Retained = &retained
	p.VerificationError = verificationError
	return true, nil
}

func (m *memPostings) IncrementPublishAttempts(_ context.Context, dealID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[dealID]
	if !ok {
		return 0, errNotFound
	}
	p.PublishAttempts++
	return p.PublishAttempts, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *memAudit) Log(_ context.Context, entry models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, _, _ int) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type memChannels struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*models.Channel
}

func newMemChannels() *memChannels {
	return &memChannels{channels: make(map[uuid.UUID]*models.Channel)}
}

func (m *memChannels) put(ch *models.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

func (m *memChannels) GetByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *ch
	return &cp, nil
}

// --- locker ---

type memLock struct{}

func (memLock) Release(context.Context) error { return nil }

type memLocker struct {
	busy map[string]bool
}

func (l *memLocker) Obtain(_ context.Context, key string, _ time.Duration) (Lock, error) {
	if l.busy[key] {
		return nil, ErrLockNotObtained
	}
	return memLock{}, nil
}

// --- telegram gateway ---

type fakeGateway struct {
	mu sync.Mutex

	now           func() time.Time
	publishResult *PublishResult
	publishErr    error
	publishCalls  int

	fetched  *FetchedMessage
	fetchErr error
}

func (g *fakeGateway) Publish(_ context.Context, _ string, chatID int64, _ PublishContent) (*PublishResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publishCalls++
	if g.publishErr != nil {
		return nil, g.publishErr
	}
	if g.publishResult != nil {
		return g.publishResult, nil
	}
	at := time.Now()
	if g.now != nil {
		at = g.now()
	}
	return &PublishResult{ChatID: chatID, MessageID: 1001, PostURL: "https://t.me/testchan/1001", PostedAt: at}, nil
}

func (g *fakeGateway) FetchMessage(context.Context, string, int64, int64) (*FetchedMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.fetched, nil
}

func (g *fakeGateway) CheckAdmin(context.Context, string, int64) (bool, error) {
	return true, nil
}

// --- chain ---

type fakeChain struct {
	mu      sync.Mutex
	state   ton.ContractState
	deposit *ton.IncomingTransfer
	err     error
}

func (c *fakeChain) setState(s ton.ContractState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Balance == nil {
		s.Balance = big.NewInt(0)
	}
	c.state = s
}

func (c *fakeChain) GetContractState(context.Context, *address.Address) (*ton.ContractState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	cp := c.state
	if cp.Balance == nil {
		cp.Balance = big.NewInt(0)
	}
	return &cp, nil
}

func (c *fakeChain) FindDeposit(context.Context, *address.Address, *big.Int) (*ton.IncomingTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deposit == nil {
		return nil, errNotFound
	}
	return c.deposit, nil
}

type fakeSigner struct {
	mu           sync.Mutex
	addr         *address.Address
	releaseCalls int
	refundCalls  int
	err          error
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{addr: address.NewAddress(0, 0, bytes.Repeat([]byte{0x42}, 32))}
}

func (s *fakeSigner) Address() *address.Address { return s.addr }

func (s *fakeSigner) TriggerRelease(context.Context, *address.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if s.err != nil {
		return "", s.err
	}
	return "tx-release", nil
}

func (s *fakeSigner) TriggerRefund(context.Context, *address.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundCalls++
	if s.err != nil {
		return "", s.err
	}
	return "tx-refund", nil
}

// --- wiring helper ---

type testEnv struct {
	orch      *Orchestrator
	escrowSvc *EscrowService
	deals     *memDeals
	escrows   *memEscrows
	creatives *memCreatives
	postings  *memPostings
	channels  *memChannels
	audit     *memAudit
	gateway   *fakeGateway
	chain     *fakeChain
	signer    *fakeSigner
	clock     time.Time

	advertiserID uuid.UUID
	ownerID      uuid.UUID
	channelID    uuid.UUID
}

const (
	testAdvertiserWallet = "EQAWzEKcdnykvXfUNouqdS62tvrp32bCxuKS6eQrS6ISgcLo"
	testOwnerWallet      = "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"
)

func newTestEnv() *testEnv {
	env := &testEnv{
		deals:        newMemDeals(),
		escrows:      newMemEscrows(),
		creatives:    newMemCreatives(),
		postings:     newMemPostings(),
		channels:     newMemChannels(),
		audit:        &memAudit{},
		gateway:      &fakeGateway{},
		chain:        &fakeChain{},
		signer:       newFakeSigner(),
		clock:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		advertiserID: uuid.New(),
		ownerID:      uuid.New(),
	}
	env.chain.setState(ton.ContractState{Deployed: false, State: -1})

	log := zap.NewNop()
	env.escrowSvc = NewEscrowService(env.escrows, env.chain, env.signer, cell.BeginCell().MustStoreUInt(0xe5c707, 24).EndCell(), 5, log)
	env.orch = NewOrchestrator(OrchestratorDeps{
		Deals:     env.deals,
		Escrows:   env.escrows,
		Creatives: env.creatives,
		Postings:  env.postings,
		Channels:  env.channels,
		Audit:     env.audit,
		Escrow:    env.escrowSvc,
		Gateway:   env.gateway,
		Locker:    &memLocker{},
		Log:       log,

		RetentionHours:     24,
		MaxPublishAttempts: 3,
	})
	env.orch.now = func() time.Time { return env.clock }
	env.gateway.now = func() time.Time { return env.clock }

	chatID := int64(-100123456)
	ch := &models.Channel{
		ID:             uuid.New(),
		TelegramChatID: &chatID,
		Username:       "testchan",
		AddedByUserID:  &env.ownerID,
		BotStatus:      "active",
	}
	env.channels.put(ch)
	env.channelID = ch.ID
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.clock = env.clock.Add(d)
}
