package chart

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records operator actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes read access to the chart and operator hold management.
type Service struct {
	repo   accounting.RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the chart service.
func NewService(repo accounting.RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// Load reads a consistent chart snapshot.
func (s *Service) Load(ctx context.Context) (*Chart, error) {
	var c *Chart
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r accounting.SnapshotReader) error {
		var err error
		c, err = Read(ctx, r)
		return err
	})
	return c, err
}

// Read builds a chart from the accounts visible to r.
func Read(ctx context.Context, r accounting.SnapshotReader) (*Chart, error) {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return New(accounts)
}

// Node is an account with its hierarchy context.
type Node struct {
	accounting.Account
	IsLeaf    bool                 `json:"is_leaf"`
	Ancestors []accounting.Account `json:"ancestors"`
	Children  []accounting.Account `json:"children"`
}

// List returns every account ordered by code.
func (s *Service) List(ctx context.Context) ([]accounting.Account, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return c.Accounts(), nil
}

// Get returns an account with its ancestors (root first) and direct children.
func (s *Service) Get(ctx context.Context, id int64) (Node, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return Node{}, err
	}
	chain, err := c.Ancestors(id)
	if err != nil {
		return Node{}, err
	}
	return Node{
		Account:   chain[len(chain)-1],
		IsLeaf:    c.IsLeaf(id),
		Ancestors: chain[:len(chain)-1],
		Children:  c.Children(id),
	}, nil
}

// ReleaseHold clears an integrity hold after investigation.
func (s *Service) ReleaseHold(ctx context.Context, id, actorID int64) (accounting.Account, error) {
	var account accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.ReleaseAccountHold(ctx, id); err != nil {
			return err
		}
		var err error
		account, err = tx.GetAccount(ctx, id)
		return err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	s.logger.WarnContext(ctx, "account hold released", slog.Int64("account_id", id), slog.Int64("actor_id", actorID))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "account.release_hold",
			Entity:   "account",
			EntityID: strconv.FormatInt(id, 10),
			At:       s.now(),
		}); err != nil {
			s.logger.Error("audit release hold", slog.Any("error", err))
		}
	}
	return account, nil
}
