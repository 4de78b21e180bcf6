// Package banking orchestrates card lifecycle operations and card-to-card
// transfers on top of the card store, validation engine and audit trail.
package banking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cardvault/bankcards/internal/audit"
	"github.com/cardvault/bankcards/internal/card"
	"github.com/cardvault/bankcards/internal/cardcrypto"
	"github.com/cardvault/bankcards/internal/identity"
	"github.com/cardvault/bankcards/internal/logging"
	"github.com/cardvault/bankcards/internal/notification"
	"github.com/cardvault/bankcards/internal/validation"
)

// SweepActor is recorded as the performer of scheduled expiry transitions.
var SweepActor = identity.SystemPrincipal("expiry-sweep").Email

const operationsDestination = "card-operations"

var (
	// ErrSourceNotOwned is returned when the caller does not hold the debited card.
	ErrSourceNotOwned = fmt.Errorf("%w: source card does not belong to the caller", identity.ErrAccessDenied)
	// ErrTargetNotOwned is returned when the caller does not hold the credited card.
	ErrTargetNotOwned = fmt.Errorf("%w: target card does not belong to the caller", identity.ErrAccessDenied)
	// ErrAdminOnly is returned when a non-admin calls an operator endpoint.
	ErrAdminOnly = fmt.Errorf("%w: admin role required", identity.ErrAccessDenied)
	// ErrDuplicatePAN is returned when the card number is already registered.
	ErrDuplicatePAN = fmt.Errorf("%w: card number already registered", validation.ErrBusinessValidation)
)

// Service is the entry point for every card operation. It holds no mutable
// state between calls.
type Service struct {
	store    card.Store
	users    identity.Repository
	engine   *validation.Engine
	cipher   *cardcrypto.Cipher
	recorder *audit.Recorder
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the orchestrator. notifier and logger may be nil.
func NewService(store card.Store, users identity.Repository, engine *validation.Engine, cipher *cardcrypto.Cipher,
	recorder *audit.Recorder, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    store,
		users:    users,
		engine:   engine,
		cipher:   cipher,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock used for expiry checks. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CardView is the outward representation of a card. It never carries the
// ciphertext or the full card number.
type CardView struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	MaskedPAN  string          `json:"masked_pan"`
	OwnerName  string          `json:"owner_name"`
	ExpiryDate string          `json:"expiry_date"`
	Status     card.Status     `json:"status"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CardPage is one page of card views.
type CardPage struct {
	Content       []CardView `json:"content"`
	TotalElements int        `json:"total_elements"`
	TotalPages    int        `json:"total_pages"`
	Page          int        `json:"page"`
	Size          int        `json:"size"`
}

func (s *Service) view(c card.Card) (CardView, error) {
	pan, err := s.cipher.Decrypt(c.EncryptedPAN)
	if err != nil {
		return CardView{}, fmt.Errorf("decrypt card %s: %w", c.ID, err)
	}
	return viewWithPAN(c, pan), nil
}

func viewWithPAN(c card.Card, pan string) CardView {
	return CardView{
		ID:         c.ID,
		UserID:     c.UserID,
		MaskedPAN:  cardcrypto.MaskPAN(pan),
		OwnerName:  c.OwnerName,
		ExpiryDate: c.Expiry.String(),
		Status:     c.Status,
		Balance:    c.Balance.Round(2),
		CreatedAt:  c.CreatedAt,
	}
}

func (s *Service) page(res card.Result) (CardPage, error) {
	out := CardPage{
		Content:       make([]CardView, 0, len(res.Cards)),
		TotalElements: res.Total,
		Page:          res.Page.Number,
		Size:          res.Page.Size,
	}
	if res.Page.Size > 0 {
		out.TotalPages = (res.Total + res.Page.Size - 1) / res.Page.Size
	}
	for _, c := range res.Cards {
		v, err := s.view(c)
		if err != nil {
			return CardPage{}, err
		}
		out.Content = append(out.Content, v)
	}
	return out, nil
}

func requireAdmin(p identity.Principal) error {
	if !p.IsAdmin() {
		return ErrAdminOnly
	}
	return nil
}

// TransferInput describes a card-to-card movement.
type TransferInput struct {
	FromCardID string
	ToCardID   string
	Amount     decimal.Decimal
}

// TransferReceipt confirms a completed transfer.
type TransferReceipt struct {
	FromCardID  string          `json:"from_card_id"`
	ToCardID    string          `json:"to_card_id"`
	Amount      decimal.Decimal `json:"amount"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Transfer moves Amount from one card to another. Both cards are locked in
// ascending id order; validation, both balance writes and the four audit
// entries happen in one transaction.
func (s *Service) Transfer(ctx context.Context, p identity.Principal, in TransferInput) (TransferReceipt, error) {
	if err := s.engine.ValidateAmountScale(in.Amount); err != nil {
		return TransferReceipt{}, err
	}

	err := s.store.InTx(ctx, func(tx card.Tx) error {
		cards, err := tx.Lock(ctx, in.FromCardID, in.ToCardID)
		if err != nil {
			return err
		}
		from, to := cards[in.FromCardID], cards[in.ToCardID]

		if !p.IsAdmin() {
			if !p.Owns(from.UserID) {
				return ErrSourceNotOwned
			}
			if !p.Owns(to.UserID) {
				return ErrTargetNotOwned
			}
		}

		if err := s.engine.ValidateTransfer(from, to, in.Amount); err != nil {
			return err
		}

		oldFrom, oldTo := from.Balance, to.Balance
		from.Balance = from.Balance.Sub(in.Amount)
		to.Balance = to.Balance.Add(in.Amount)

		if err := tx.Save(ctx, from, to); err != nil {
			return err
		}
		if err := s.recorder.Transfer(ctx, tx, p.Email, from.Subject(), to.Subject(), in.Amount); err != nil {
			return err
		}
		if err := s.recorder.BalanceChanged(ctx, tx, p.Email, from.Subject(), oldFrom); err != nil {
			return err
		}
		return s.recorder.BalanceChanged(ctx, tx, p.Email, to.Subject(), oldTo)
	})
	if err != nil {
		return TransferReceipt{}, err
	}

	receipt := TransferReceipt{
		FromCardID:  in.FromCardID,
		ToCardID:    in.ToCardID,
		Amount:      in.Amount,
		CompletedAt: s.now().UTC(),
	}
	s.logger.Info("card transfer completed",
		slog.String("from_card_id", in.FromCardID),
		slog.String("to_card_id", in.ToCardID),
		slog.String("amount", in.Amount.StringFixed(2)),
		slog.String("performed_by", p.Email),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindTransferCompleted,
		Destination: p.Email,
		Body:        fmt.Sprintf("Transferred %s from card %s to card %s", in.Amount.StringFixed(2), in.FromCardID, in.ToCardID),
	})
	return receipt, nil
}

// CreateCardInput carries an operator's request to issue a card.
type CreateCardInput struct {
	UserID         string
	PAN            string
	OwnerName      string
	ExpiryDate     string
	InitialBalance decimal.Decimal
}

// CreateCard issues a new ACTIVE card to an existing user. Admin only.
func (s *Service) CreateCard(ctx context.Context, p identity.Principal, in CreateCardInput) (CardView, error) {
	if err := requireAdmin(p); err != nil {
		return CardView{}, err
	}
	if err := s.engine.ValidatePAN(in.PAN); err != nil {
		return CardView{}, err
	}
	expiry, err := s.engine.ValidateExpiryDate(in.ExpiryDate)
	if err != nil {
		return CardView{}, err
	}
	if err := s.engine.ValidateOwnerName(in.OwnerName); err != nil {
		return CardView{}, err
	}
	if !in.InitialBalance.Equal(in.InitialBalance.Truncate(2)) {
		return CardView{}, validation.ErrAmountScale
	}

	if _, err := s.users.FindByID(ctx, in.UserID); err != nil {
		return CardView{}, err
	}

	encrypted, err := s.cipher.Encrypt(in.PAN)
	if err != nil {
		return CardView{}, err
	}
	now := s.now().UTC()
	c := card.Card{
		ID:             uuid.New().String(),
		UserID:         in.UserID,
		EncryptedPAN:   encrypted,
		PANFingerprint: s.cipher.Fingerprint(in.PAN),
		OwnerName:      in.OwnerName,
		Expiry:         expiry,
		Status:         card.StatusActive,
		Balance:        in.InitialBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.InTx(ctx, func(tx card.Tx) error {
		if err := tx.LockUser(ctx, in.UserID); err != nil {
			return err
		}
		count, err := tx.CountByUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if err := s.engine.ValidateCardCreation(count, in.InitialBalance); err != nil {
			return err
		}
		exists, err := tx.FingerprintExists(ctx, c.PANFingerprint)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicatePAN
		}
		if err := tx.Insert(ctx, c); err != nil {
			return err
		}
		return s.recorder.CardCreated(ctx, tx, p.Email, c.Subject())
	})
	if errors.Is(err, card.ErrDuplicate) {
		return CardView{}, ErrDuplicatePAN
	}
	if err != nil {
		return CardView{}, err
	}

	s.logger.Info("card created",
		slog.String("card_id", c.ID),
		slog.String("user_id", c.UserID),
		slog.String("performed_by", p.Email),
	)
	return viewWithPAN(c, in.PAN), nil
}

// UpdateCardStatus moves a card along the lifecycle table. Admin only.
func (s *Service) UpdateCardStatus(ctx context.Context, p identity.Principal, cardID string, next card.Status) (CardView, error) {
	if err := requireAdmin(p); err != nil {
		return CardView{}, err
	}

	var updated card.Card
	err := s.store.InTx(ctx, func(tx card.Tx) error {
		cards, err := tx.Lock(ctx, cardID)
		if err != nil {
			return err
		}
		c := cards[cardID]
		if err := s.engine.ValidateCardStatusChange(c, next); err != nil {
			return err
		}
		old := c.Status
		c.Status = next
		if err := tx.Save(ctx, c); err != nil {
			return err
		}
		updated = c
		return s.recorder.StatusChanged(ctx, tx, p.Email, c.Subject(), string(old))
	})
	if err != nil {
		return CardView{}, err
	}

	s.logger.Info("card status updated",
		slog.String("card_id", cardID),
		slog.String("status", string(next)),
		slog.String("performed_by", p.Email),
	)
	return s.view(updated)
}

// RequestCardBlock lets a holder block one of their own cards. Cards held
// by someone else are reported as not found.
func (s *Service) RequestCardBlock(ctx context.Context, p identity.Principal, cardID string) (CardView, error) {
	var blocked card.Card
	err := s.store.InTx(ctx, func(tx card.Tx) error {
		cards, err := tx.Lock(ctx, cardID)
		if err != nil {
			return err
		}
		c := cards[cardID]
		if !p.Owns(c.UserID) {
			return fmt.Errorf("%w: %s", card.ErrNotFound, cardID)
		}
		if err := s.engine.ValidateCardStatusChange(c, card.StatusBlocked); err != nil {
			return err
		}
		old := c.Status
		c.Status = card.StatusBlocked
		if err := tx.Save(ctx, c); err != nil {
			return err
		}
		blocked = c
		return s.recorder.BlockRequested(ctx, tx, p.Email, c.Subject(), string(old))
	})
	if err != nil {
		return CardView{}, err
	}

	s.logger.Info("card block requested",
		slog.String("card_id", cardID),
		slog.String("performed_by", p.Email),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindBlockRequested,
		Destination: operationsDestination,
		Body:        fmt.Sprintf("User %s blocked card %s", p.Email, cardID),
	})
	return s.view(blocked)
}

// DeleteCard removes a non-active card with no funds. Admin only. Audit
// history of the card is kept.
func (s *Service) DeleteCard(ctx context.Context, p identity.Principal, cardID string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx card.Tx) error {
		cards, err := tx.Lock(ctx, cardID)
		if err != nil {
			return err
		}
		if err := s.engine.ValidateCardDeletion(cards[cardID]); err != nil {
			return err
		}
		return tx.Delete(ctx, cardID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("card deleted", slog.String("card_id", cardID), slog.String("performed_by", p.Email))
	return nil
}

// GetCard returns one card. Holders only see their own cards.
func (s *Service) GetCard(ctx context.Context, p identity.Principal, cardID string) (CardView, error) {
	c, err := s.store.FindByID(ctx, cardID)
	if err != nil {
		return CardView{}, err
	}
	if !p.IsAdmin() && !p.Owns(c.UserID) {
		return CardView{}, fmt.Errorf("%w: %s", card.ErrNotFound, cardID)
	}
	return s.view(c)
}

// ListFilter narrows a card listing.
type ListFilter struct {
	UserID string
	Status card.Status
	Page   card.Page
}

// ListMyCards pages through the caller's cards.
func (s *Service) ListMyCards(ctx context.Context, p identity.Principal, f ListFilter) (CardPage, error) {
	res, err := s.store.List(ctx, card.Filter{UserID: p.UserID, Status: f.Status, Page: f.Page})
	if err != nil {
		return CardPage{}, err
	}
	return s.page(res)
}

// ListAllCards pages through every card, optionally by user and status. Admin only.
func (s *Service) ListAllCards(ctx context.Context, p identity.Principal, f ListFilter) (CardPage, error) {
	if err := requireAdmin(p); err != nil {
		return CardPage{}, err
	}
	if f.UserID != "" {
		if _, err := s.users.FindByID(ctx, f.UserID); err != nil {
			return CardPage{}, err
		}
	}
	res, err := s.store.List(ctx, card.Filter{UserID: f.UserID, Status: f.Status, Page: f.Page})
	if err != nil {
		return CardPage{}, err
	}
	return s.page(res)
}

// HasCards reports whether userID holds any card in any status.
func (s *Service) HasCards(ctx context.Context, userID string) (bool, error) {
	res, err := s.store.List(ctx, card.Filter{UserID: userID, Page: card.Page{Size: 1}})
	if err != nil {
		return false, err
	}
	return res.Total > 0, nil
}

// AuthorizeCardAudit checks that p may read the audit trail of cardID.
// Admins may read any trail, including that of deleted cards.
func (s *Service) AuthorizeCardAudit(ctx context.Context, p identity.Principal, cardID string) error {
	if p.IsAdmin() {
		return nil
	}
	c, err := s.store.FindByID(ctx, cardID)
	if err != nil {
		return err
	}
	if !p.Owns(c.UserID) {
		return fmt.Errorf("%w: %s", card.ErrNotFound, cardID)
	}
	return nil
}

// CheckAndUpdateExpiredCards marks every ACTIVE card whose expiry month has
// passed as EXPIRED and records one status change per card. Running it again
// with nothing newly expired changes nothing.
func (s *Service) CheckAndUpdateExpiredCards(ctx context.Context) (int, error) {
	current := card.YearMonthOf(s.now())

	var expired []card.Card
	err := s.store.InTx(ctx, func(tx card.Tx) error {
		cards, err := tx.LockExpired(ctx, current)
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			return nil
		}
		for i := range cards {
			cards[i].Status = card.StatusExpired
		}
		if err := tx.Save(ctx, cards...); err != nil {
			return err
		}
		for _, c := range cards {
			if err := s.recorder.StatusChanged(ctx, tx, SweepActor, c.Subject(), string(card.StatusActive)); err != nil {
				return err
			}
		}
		expired = cards
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		s.logger.Info("expired cards swept", slog.Int("count", len(expired)), slog.String("before", current.String()))
		s.notify(ctx, notification.Message{
			Kind:        notification.KindCardsExpired,
			Destination: operationsDestination,
			Body:        fmt.Sprintf("%d cards marked expired", len(expired)),
		})
	}
	return len(expired), nil
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
