package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"finbot/internal/domain"
)

const (
	skProfile      = "PROFILE"
	skConversation = "CONV"
	skPrefixCat    = "CAT#"
	skPrefixEntry  = "ENTRY#"
	skPrefixOpen   = "OPEN#"
	skPrefixEvent  = "EVENT#"

	dateLayout         = "2006-01-02"
	defaultEventTTL    = 72 * time.Hour
	condNotExists      = "attribute_not_exists(PK)"
	condFailedCode     = "ConditionalCheckFailed"
	maxTransactItems   = 100
	fixedCycleItems    = 4 // conversation, entry, guard, event marker
	maxCycleCategories = maxTransactItems - fixedCycleItems
)

var (
	ErrNotFound       = errors.New("repository: not found")
	ErrConflict       = errors.New("repository: concurrent update")
	ErrDuplicateEvent = errors.New("repository: event already processed")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores users, conversations, categories and entries in a single
// DynamoDB table partitioned by user.
type Client struct {
	api       dynamodbAPI
	tableName string
	eventTTL  time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithEventTTL sets how long processed-event markers are kept.
func WithEventTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.eventTTL = d
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, eventTTL: defaultEventTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func userPK(userID string) string {
	return "USER#" + userID
}

func key(userID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) getItem(ctx context.Context, userID, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(userID, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// queryPrefix returns every item of a user whose sort key starts with prefix.
func (c *Client) queryPrefix(ctx context.Context, userID, prefix string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ConsistentRead: aws.Bool(true),
	}
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// GetUser returns the stored profile or ErrNotFound.
func (c *Client) GetUser(ctx context.Context, userID string) (domain.User, error) {
	item, err := c.getItem(ctx, userID, skProfile)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUser: %w", err)
	}
	u, err := itemToUser(userID, item)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUser decode: %w", err)
	}
	return u, nil
}

// PutUser writes or replaces the user profile.
func (c *Client) PutUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("repository: PutUser: user id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      userItem(u),
	})
	if err != nil {
		return fmt.Errorf("repository: PutUser: %w", err)
	}
	return nil
}

// GetConversation returns the user's conversation. A user without one gets a
// fresh conversation in status init with version 0.
func (c *Client) GetConversation(ctx context.Context, userID string) (domain.Conversation, error) {
	item, err := c.getItem(ctx, userID, skConversation)
	if errors.Is(err, ErrNotFound) {
		return domain.NewConversation(userID), nil
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", err)
	}
	conv, err := itemToConversation(userID, item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, nil
}

// ListCategories returns the user's categories ordered by name.
func (c *Client) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	items, err := c.queryPrefix(ctx, userID, skPrefixCat)
	if err != nil {
		return nil, fmt.Errorf("repository: ListCategories query: %w", err)
	}
	cats := make([]domain.Category, 0, len(items))
	for _, item := range items {
		cat, err := itemToCategory(userID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListCategories decode: %w", err)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

// GetEntry returns one budget entry or ErrNotFound.
func (c *Client) GetEntry(ctx context.Context, userID, entryID string) (domain.BudgetEntry, error) {
	item, err := c.getItem(ctx, userID, skPrefixEntry+entryID)
	if err != nil {
		return domain.BudgetEntry{}, fmt.Errorf("repository: GetEntry: %w", err)
	}
	e, err := itemToEntry(userID, item)
	if err != nil {
		return domain.BudgetEntry{}, fmt.Errorf("repository: GetEntry decode: %w", err)
	}
	return e, nil
}

// ListOpenEntries follows the per-type guards to the user's non-done entries.
// Guards pointing at a missing or finished entry are skipped.
func (c *Client) ListOpenEntries(ctx context.Context, userID string) ([]domain.BudgetEntry, error) {
	guards, err := c.queryPrefix(ctx, userID, skPrefixOpen)
	if err != nil {
		return nil, fmt.Errorf("repository: ListOpenEntries query: %w", err)
	}
	entries := make([]domain.BudgetEntry, 0, len(guards))
	for _, g := range guards {
		entryID, err := strAttr(g, "entryId")
		if err != nil {
			return nil, fmt.Errorf("repository: ListOpenEntries decode guard: %w", err)
		}
		e, err := c.GetEntry(ctx, userID, entryID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("repository: ListOpenEntries: %w", err)
		}
		if e.Status.IsOpen() {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// IsProcessed reports whether an unexpired marker exists for eventID.
func (c *Client) IsProcessed(ctx context.Context, userID, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, nil
	}
	item, err := c.getItem(ctx, userID, skPrefixEvent+eventID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: IsProcessed: %w", err)
	}
	ttl, err := int64Attr(item, "ttl")
	if err != nil {
		return true, nil
	}
	return ttl > c.now().Unix(), nil
}

// SaveCycle writes the result of one dispatch in a single transaction. The
// conversation write is conditional on the version read by the caller, a new
// entry claims its per-type guard, a finished entry releases it, and the event
// marker makes a redelivered event fail with ErrDuplicateEvent.
func (c *Client) SaveCycle(ctx context.Context, cyc domain.Cycle) error {
	conv := cyc.Conversation
	if strings.TrimSpace(conv.UserID) == "" {
		return errors.New("repository: SaveCycle: conversation user id is required")
	}
	if len(cyc.NewCategories) > maxCycleCategories {
		return fmt.Errorf("repository: SaveCycle: %d categories exceed the limit of %d", len(cyc.NewCategories), maxCycleCategories)
	}
	now := c.now().UTC()

	items := []types.TransactWriteItem{c.conversationWrite(conv, now)}

	if e := cyc.Entry; e != nil {
		if e.ID == "" || !e.Type.IsValid() || !e.Status.IsValid() {
			return fmt.Errorf("repository: SaveCycle: invalid entry %q (%s/%s)", e.ID, e.Type, e.Status)
		}
		put := &types.Put{TableName: aws.String(c.tableName), Item: entryItem(conv.UserID, *e)}
		if cyc.EntryCreated {
			put.ConditionExpression = aws.String(condNotExists)
		}
		items = append(items, types.TransactWriteItem{Put: put})

		switch {
		case cyc.EntryCreated && e.Status.IsOpen():
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                guardItem(conv.UserID, *e),
				ConditionExpression: aws.String(condNotExists),
			}})
		case e.Status == domain.EntryDone:
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName:           aws.String(c.tableName),
				Key:                 key(conv.UserID, skPrefixOpen+string(e.Type)),
				ConditionExpression: aws.String("entryId = :id"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":id": &types.AttributeValueMemberS{Value: e.ID},
				},
			}})
		}
	}

	for _, cat := range cyc.NewCategories {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                categoryItem(conv.UserID, cat),
			ConditionExpression: aws.String(condNotExists),
		}})
	}

	eventIdx := -1
	if cyc.EventID != "" {
		eventIdx = len(items)
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                eventItem(conv.UserID, cyc.EventID, now, c.eventTTL),
			ConditionExpression: aws.String(condNotExists),
		}})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: SaveCycle: %w", classifyTxError(err, eventIdx))
	}
	return nil
}

func (c *Client) conversationWrite(conv domain.Conversation, now time.Time) types.TransactWriteItem {
	next := conv
	next.Version = conv.Version + 1
	next.UpdatedAt = now
	put := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      conversationItem(next),
	}
	if conv.Version == 0 {
		put.ConditionExpression = aws.String(condNotExists)
	} else {
		put.ConditionExpression = aws.String("version = :expected")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Version)},
		}
	}
	return types.TransactWriteItem{Put: put}
}

// classifyTxError maps a cancelled transaction to ErrDuplicateEvent when only
// the event marker failed its condition, and to ErrConflict when any other
// condition failed.
func classifyTxError(err error, eventIdx int) error {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return err
	}
	eventFailed, otherFailed := false, false
	for i, r := range canceled.CancellationReasons {
		if aws.ToString(r.Code) != condFailedCode {
			continue
		}
		if i == eventIdx {
			eventFailed = true
		} else {
			otherFailed = true
		}
	}
	switch {
	case otherFailed:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case eventFailed:
		return fmt.Errorf("%w: %w", ErrDuplicateEvent, err)
	}
	return err
}
