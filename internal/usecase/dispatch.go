package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"finbot/internal/dialogue"
	"finbot/internal/domain"
	"finbot/internal/repository"
)

const maxSaveAttempts = 3

type Store interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	PutUser(ctx context.Context, u domain.User) error
	GetConversation(ctx context.Context, userID string) (domain.Conversation, error)
	ListCategories(ctx context.Context, userID string) ([]domain.Category, error)
	ListOpenEntries(ctx context.Context, userID string) ([]domain.BudgetEntry, error)
	GetEntry(ctx context.Context, userID, entryID string) (domain.BudgetEntry, error)
	IsProcessed(ctx context.Context, userID, eventID string) (bool, error)
	SaveCycle(ctx context.Context, cyc domain.Cycle) error
}

type Sender interface {
	Send(ctx context.Context, a domain.Action) error
	SendTyping(ctx context.Context, recipient string) error
}

type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (domain.User, error)
}

type Stepper interface {
	Step(s dialogue.Snapshot, ev domain.InboundEvent) dialogue.Result
}

type DispatchOutput struct {
	Status    domain.ConversationStatus
	Actions   int
	Duplicate bool
}

type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLocation sets the zone "today" is computed in.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher runs one inbound event through load, step, save and send.
type Dispatcher struct {
	store    Store
	sender   Sender
	profiles ProfileFetcher
	machine  Stepper
	now      func() time.Time
	loc      *time.Location
	log      *slog.Logger
}

func NewDispatcher(store Store, sender Sender, profiles ProfileFetcher, machine Stepper, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if machine == nil {
		return nil, errors.New("usecase: machine must not be nil")
	}
	d := &Dispatcher{
		store:    store,
		sender:   sender,
		profiles: profiles,
		machine:  machine,
		now:      time.Now,
		loc:      time.UTC,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch handles a single event. State is persisted before any action is
// sent, so a redelivered event is recognised by its message id and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.InboundEvent) (DispatchOutput, error) {
	ev.SenderID = strings.TrimSpace(ev.SenderID)
	if ev.SenderID == "" {
		return DispatchOutput{}, newError(ErrorInvalidInput, "missing_sender", nil)
	}

	seen, err := d.store.IsProcessed(ctx, ev.SenderID, ev.MessageID)
	if err != nil {
		return DispatchOutput{}, newError(ErrorInternal, "dynamodb_event_lookup_error", err)
	}
	if seen {
		return DispatchOutput{Duplicate: true}, nil
	}

	if err := d.sender.SendTyping(ctx, ev.SenderID); err != nil {
		d.log.DebugContext(ctx, "typing indicator failed", "sender", ev.SenderID, "err", err)
	}

	user, err := d.ensureUser(ctx, ev.SenderID)
	if err != nil {
		return DispatchOutput{}, err
	}

	var res dialogue.Result
	for attempt := 1; ; attempt++ {
		snap, err := d.snapshot(ctx, user)
		if err != nil {
			return DispatchOutput{}, err
		}
		res = d.machine.Step(snap, ev)

		err = d.store.SaveCycle(ctx, domain.Cycle{
			Conversation:  res.Conversation,
			Entry:         res.Entry,
			EntryCreated:  res.EntryCreated,
			NewCategories: res.NewCategories,
			EventID:       ev.MessageID,
		})
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateEvent) {
			return DispatchOutput{Duplicate: true}, nil
		}
		if errors.Is(err, repository.ErrConflict) {
			if attempt < maxSaveAttempts {
				continue
			}
			return DispatchOutput{}, newError(ErrorConflict, "concurrent_update", err)
		}
		return DispatchOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	for _, a := range res.Actions {
		if err := d.sender.Send(ctx, a); err != nil {
			return DispatchOutput{}, newError(ErrorUpstream, "messenger_send_error", err)
		}
	}
	return DispatchOutput{Status: res.Conversation.Status, Actions: len(res.Actions)}, nil
}

// ensureUser loads the user, creating it on first contact. A failed profile
// lookup still creates an id-only user.
func (d *Dispatcher) ensureUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := d.store.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, newError(ErrorInternal, "dynamodb_user_error", err)
	}

	u = domain.User{ID: userID}
	if d.profiles != nil {
		p, err := d.profiles.GetProfile(ctx, userID)
		if err != nil {
			d.log.WarnContext(ctx, "profile lookup failed", "sender", userID, "err", err)
		} else {
			p.ID = userID
			u = p
		}
	}
	now := d.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if err := d.store.PutUser(ctx, u); err != nil {
		return domain.User{}, newError(ErrorInternal, "dynamodb_user_write_error", err)
	}
	return u, nil
}

func (d *Dispatcher) snapshot(ctx context.Context, user domain.User) (dialogue.Snapshot, error) {
	conv, err := d.store.GetConversation(ctx, user.ID)
	if err != nil {
		return dialogue.Snapshot{}, newError(ErrorInternal, "dynamodb_conversation_error", err)
	}
	cats, err := d.store.ListCategories(ctx, user.ID)
	if err != nil {
		return dialogue.Snapshot{}, newError(ErrorInternal, "dynamodb_categories_error", err)
	}
	open, err := d.store.ListOpenEntries(ctx, user.ID)
	if err != nil {
		return dialogue.Snapshot{}, newError(ErrorInternal, "dynamodb_open_entries_error", err)
	}

	var active *domain.BudgetEntry
	if conv.ActiveEntryID != "" {
		for i := range open {
			if open[i].ID == conv.ActiveEntryID {
				e := open[i]
				active = &e
				break
			}
		}
		if active == nil {
			e, err := d.store.GetEntry(ctx, user.ID, conv.ActiveEntryID)
			switch {
			case err == nil:
				active = &e
			case !errors.Is(err, repository.ErrNotFound):
				return dialogue.Snapshot{}, newError(ErrorInternal, "dynamodb_entry_error", err)
			}
		}
	}

	return dialogue.Snapshot{
		User:         user,
		Conversation: conv,
		Categories:   cats,
		Entry:        active,
		OpenEntries:  open,
		Now:          d.now().In(d.loc),
	}, nil
}
