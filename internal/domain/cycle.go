package domain

// Cycle is everything one dispatch writes back. Conversation.Version is the
// version that was read; the store bumps it and rejects the write if another
// cycle got there first.
type Cycle struct {
	Conversation  Conversation
	Entry         *BudgetEntry
	EntryCreated  bool
	NewCategories []Category
	EventID       string
}
