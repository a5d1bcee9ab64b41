package dialogue

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finbot/internal/domain"
	"finbot/internal/parser"
)

// Payloads of the fixed menu and confirmation buttons.
const (
	PayloadDeposit        = "deposit"
	PayloadWithdrawal     = "withdrawal"
	PayloadListCategories = "list_categories"
	PayloadAddCategory    = "add_category"
	PayloadFinalize       = "finalize"
	PayloadRetry          = "retry"
)

const defaultMaxCategories = 20

// Snapshot is everything Step needs to know about a user. Entry is the entry
// referenced by Conversation.ActiveEntryID, or nil. OpenEntries holds the
// non-done entries of the user, at most one per type.
type Snapshot struct {
	User         domain.User
	Conversation domain.Conversation
	Categories   []domain.Category
	Entry        *domain.BudgetEntry
	OpenEntries  []domain.BudgetEntry
	Now          time.Time
}

// Result is the outcome of one Step. Entry is nil when the step did not touch
// an entry; EntryCreated marks it as new.
type Result struct {
	Conversation  domain.Conversation
	Entry         *domain.BudgetEntry
	EntryCreated  bool
	NewCategories []domain.Category
	Actions       []domain.Action
}

// Machine is the dialogue state machine. It performs no I/O and is safe for
// concurrent use.
type Machine struct {
	tpl           *Templates
	maxCategories int
}

func NewMachine(tpl *Templates, maxCategories int) (*Machine, error) {
	if tpl == nil {
		return nil, errors.New("dialogue: templates must not be nil")
	}
	if maxCategories <= 0 {
		maxCategories = defaultMaxCategories
	}
	return &Machine{tpl: tpl, maxCategories: maxCategories}, nil
}

// Step interprets ev in the conversation described by s.
func (m *Machine) Step(s Snapshot, ev domain.InboundEvent) Result {
	t := &turn{
		m:    m,
		snap: s,
		ev:   ev,
		seed: eventSeed(ev),
		res:  Result{Conversation: s.Conversation},
	}
	if t.res.Conversation.UserID == "" {
		t.res.Conversation.UserID = s.User.ID
	}

	switch s.Conversation.Status {
	case domain.StatusInit:
		t.onInit()
	case domain.StatusWaiting:
		t.onWaiting()
	case domain.StatusBeginAddCategory:
		t.onBeginAddCategory()
	case domain.StatusBeginAddData:
		t.onBeginAddData()
	case domain.StatusDraftAddData:
		t.onDraftAddData()
	case domain.StatusConfirmAddData:
		t.onConfirmAddData()
	default:
		t.onInit()
	}
	return t.res
}

// turn accumulates the result of a single Step.
type turn struct {
	m    *Machine
	snap Snapshot
	ev   domain.InboundEvent
	seed string
	res  Result
}

func (t *turn) moveTo(status domain.ConversationStatus) {
	t.res.Conversation.Status = status
}

func (t *turn) render(kind ResponseKind, vars ...string) string {
	vars = append(vars, "name", t.snap.User.DisplayName())
	return t.m.tpl.Render(kind, t.seed+string(kind), vars...)
}

func (t *turn) text(kind ResponseKind, vars ...string) {
	t.res.Actions = append(t.res.Actions, domain.SendText(t.snap.User.ID, t.render(kind, vars...)))
}

func (t *turn) onInit() {
	t.text(KindIntro)
	t.promptCategories()
}

func (t *turn) onWaiting() {
	switch t.ev.Payload() {
	case "":
		kind := KindWaiting
		if k, ok := t.m.tpl.MatchKeyword(t.ev.Text); ok {
			kind = k
		}
		t.menu(kind)
		t.moveTo(domain.StatusWaiting)
	case PayloadDeposit:
		t.startEntry(domain.EntryDeposit)
	case PayloadWithdrawal:
		t.startEntry(domain.EntryWithdrawal)
	case PayloadAddCategory:
		t.promptCategories()
	case PayloadListCategories:
		t.listCategories()
		t.menu(KindWaiting)
		t.moveTo(domain.StatusWaiting)
	default:
		t.moveTo(domain.StatusWaiting)
	}
}

func (t *turn) onBeginAddCategory() {
	text := strings.TrimSpace(t.ev.Text)
	if t.ev.HasPayload() || text == "" {
		t.promptCategories()
		return
	}
	names := splitCategoryNames(text)
	if len(names) == 0 {
		t.promptCategories()
		return
	}

	var fresh []string
	for _, name := range names {
		if _, exists := domain.FindCategory(t.snap.Categories, name); !exists {
			fresh = append(fresh, name)
		}
	}
	ignored := 0
	if len(fresh) > t.m.maxCategories {
		ignored = len(fresh) - t.m.maxCategories
		fresh = fresh[:t.m.maxCategories]
	}

	for _, name := range fresh {
		t.res.NewCategories = append(t.res.NewCategories, domain.Category{
			ID:     newUUID(),
			UserID: t.snap.User.ID,
			Name:   name,
		})
	}
	t.text(KindCategoriesAdded, "count", strconv.Itoa(len(fresh)))
	if ignored > 0 {
		t.text(KindCategoriesIgnored, "ignored", strconv.Itoa(ignored))
	}
	t.listCategories()
	t.menu(KindWaiting)
	t.moveTo(domain.StatusWaiting)
}

func (t *turn) onBeginAddData() {
	e := t.activeEntry()
	if e == nil {
		t.backToMenu()
		return
	}
	if len(t.snap.Categories) == 0 {
		t.text(KindNoCategories)
		t.promptCategories()
		return
	}

	// A typed name reaches categories the quick-reply cap left out of the chooser.
	name := t.ev.Payload()
	if name == "" {
		name = strings.TrimSpace(t.ev.Text)
	}
	cat, ok := domain.FindCategory(t.snap.Categories, name)
	if name == "" || !ok {
		t.chooseCategory(e.Type)
		t.moveTo(domain.StatusBeginAddData)
		return
	}

	e.CategoryID = cat.ID
	e.CategoryName = cat.Name
	e.UpdatedAt = t.snap.Now
	t.res.Entry = e
	t.promptEntryFields(e)
	t.moveTo(domain.StatusDraftAddData)
}

func (t *turn) onDraftAddData() {
	e := t.activeEntry()
	if e == nil {
		t.backToMenu()
		return
	}
	line := strings.TrimSpace(t.ev.Text)
	if line == "" {
		t.promptEntryFields(e)
		t.moveTo(domain.StatusDraftAddData)
		return
	}

	parsed, err := parser.ParseEntry(line, t.snap.Now)
	if err != nil {
		if errors.Is(err, parser.ErrInvalidDate) {
			t.text(KindInvalidDate)
		} else {
			t.text(KindMalformedEntry)
		}
		t.moveTo(domain.StatusDraftAddData)
		return
	}

	e.Description = parsed.Description
	e.Value = parsed.Value
	e.Date = parsed.Date
	e.Status = domain.EntryRevision
	e.UpdatedAt = t.snap.Now
	t.res.Entry = e
	t.confirm(e)
	t.moveTo(domain.StatusConfirmAddData)
}

func (t *turn) onConfirmAddData() {
	e := t.activeEntry()
	if e == nil {
		t.backToMenu()
		return
	}
	if e.Status != domain.EntryRevision {
		t.promptEntryFields(e)
		t.moveTo(domain.StatusDraftAddData)
		return
	}

	switch t.ev.Payload() {
	case "":
		t.confirm(e)
		t.moveTo(domain.StatusConfirmAddData)
	case PayloadFinalize:
		e.Status = domain.EntryDone
		e.UpdatedAt = t.snap.Now
		t.res.Entry = e
		t.res.Conversation.ActiveEntryID = ""
		t.text(KindEntryDone, "type", t.m.tpl.TypeLabel(e.Type))
		t.menu(KindWaiting)
		t.moveTo(domain.StatusWaiting)
	default:
		e.Reset()
		e.UpdatedAt = t.snap.Now
		t.res.Entry = e
		t.text(KindSorryWrongAdd)
		t.moveTo(domain.StatusDraftAddData)
	}
}

// startEntry opens a draft of type et, reusing an open entry of that type
// so that a user never has two.
func (t *turn) startEntry(et domain.EntryType) {
	if len(t.snap.Categories) == 0 {
		t.text(KindNoCategories)
		t.promptCategories()
		return
	}

	var e domain.BudgetEntry
	if open := t.openEntry(et); open != nil {
		e = *open
		e.Reset()
		e.CategoryID = ""
		e.CategoryName = ""
	} else {
		e = domain.BudgetEntry{
			ID:     newUUID(),
			UserID: t.snap.User.ID,
			Type:   et,
			Status: domain.EntryDraft,
		}
		t.res.EntryCreated = true
	}
	e.UpdatedAt = t.snap.Now
	t.res.Entry = &e
	t.res.Conversation.ActiveEntryID = e.ID

	t.chooseCategory(et)
	t.moveTo(domain.StatusBeginAddData)
}

func (t *turn) promptCategories() {
	t.text(KindBeginAddCategory)
	t.moveTo(domain.StatusBeginAddCategory)
}

func (t *turn) listCategories() {
	if len(t.snap.Categories) == 0 && len(t.res.NewCategories) == 0 {
		t.text(KindNoCategories)
		return
	}
	var b strings.Builder
	for i, name := range append(domain.CategoryNames(t.snap.Categories), domain.CategoryNames(t.res.NewCategories)...) {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.m.tpl.Labels.Bullet)
		b.WriteString(name)
	}
	t.text(KindCategoryList, "categories", b.String())
}

func (t *turn) menu(kind ResponseKind) {
	l := t.m.tpl.Labels
	t.res.Actions = append(t.res.Actions, domain.SendQuickReplies(t.snap.User.ID, t.render(kind), []domain.Option{
		{Title: l.AddWithdrawal, Payload: PayloadWithdrawal},
		{Title: l.AddDeposit, Payload: PayloadDeposit},
		{Title: l.ListCategories, Payload: PayloadListCategories},
		{Title: l.AddCategory, Payload: PayloadAddCategory},
	}))
}

func (t *turn) chooseCategory(et domain.EntryType) {
	options := make([]domain.Option, 0, len(t.snap.Categories))
	for _, c := range t.snap.Categories {
		options = append(options, domain.Option{Title: c.Name, Payload: c.Name})
	}
	text := t.render(KindChooseCategory, "type", t.m.tpl.TypeLabel(et))
	t.res.Actions = append(t.res.Actions, domain.SendQuickReplies(t.snap.User.ID, text, options))
}

func (t *turn) promptEntryFields(e *domain.BudgetEntry) {
	t.text(KindBeginAddData, "type", t.m.tpl.TypeLabel(e.Type), "category", e.CategoryName)
}

func (t *turn) confirm(e *domain.BudgetEntry) {
	l := t.m.tpl.Labels
	text := t.render(KindConfirmAddData,
		"type", t.m.tpl.TypeLabel(e.Type),
		"value", formatValue(e.Value, l.DecimalSeparator),
		"date", e.Date.Format(l.DateLayout),
		"description", e.Description,
		"category", e.CategoryName,
	)
	t.res.Actions = append(t.res.Actions, domain.SendButtons(t.snap.User.ID, text, []domain.Option{
		{Title: l.Finalize, Payload: PayloadFinalize},
		{Title: l.Retry, Payload: PayloadRetry},
	}))
}

// backToMenu handles a task state whose entry can no longer be found.
func (t *turn) backToMenu() {
	t.res.Conversation.ActiveEntryID = ""
	t.menu(KindWaiting)
	t.moveTo(domain.StatusWaiting)
}

// activeEntry returns a copy of the open entry the conversation points at.
func (t *turn) activeEntry() *domain.BudgetEntry {
	e := t.snap.Entry
	if e == nil || e.ID == "" || e.ID != t.snap.Conversation.ActiveEntryID || !e.Status.IsOpen() {
		return nil
	}
	cp := *e
	return &cp
}

func (t *turn) openEntry(et domain.EntryType) *domain.BudgetEntry {
	for i := range t.snap.OpenEntries {
		if e := t.snap.OpenEntries[i]; e.Type == et && e.Status.IsOpen() {
			return &e
		}
	}
	return nil
}

// splitCategoryNames splits a comma-separated list into trimmed, non-empty,
// unique names in the order given.
func splitCategoryNames(text string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, part := range strings.Split(text, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func formatValue(v decimal.Decimal, sep string) string {
	s := v.StringFixed(2)
	if sep != "" && sep != "." {
		s = strings.Replace(s, ".", sep, 1)
	}
	return s
}

func eventSeed(ev domain.InboundEvent) string {
	if ev.MessageID != "" {
		return ev.MessageID
	}
	return ev.SenderID + "|" + ev.Text + "|" + ev.Payload()
}

var newUUID = func() string {
	return uuid.NewString()
}
