package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"finbot/internal/domain"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func userItem(u domain.User) map[string]types.AttributeValue {
	item := key(u.ID, skProfile)
	item["firstName"] = s(u.FirstName)
	item["lastName"] = s(u.LastName)
	item["locale"] = s(u.Locale)
	item["timezone"] = n(strconv.FormatFloat(u.Timezone, 'f', -1, 64))
	item["createdAt"] = s(u.CreatedAt.UTC().Format(time.RFC3339))
	item["updatedAt"] = s(u.UpdatedAt.UTC().Format(time.RFC3339))
	return item
}

func itemToUser(userID string, item map[string]types.AttributeValue) (domain.User, error) {
	u := domain.User{ID: userID}
	u.FirstName = optStrAttr(item, "firstName")
	u.LastName = optStrAttr(item, "lastName")
	u.Locale = optStrAttr(item, "locale")
	if raw := optNumAttr(item, "timezone"); raw != "" {
		tz, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.User{}, fmt.Errorf("decode timezone: %w", err)
		}
		u.Timezone = tz
	}
	u.CreatedAt = optTimeAttr(item, "createdAt")
	u.UpdatedAt = optTimeAttr(item, "updatedAt")
	return u, nil
}

func conversationItem(c domain.Conversation) map[string]types.AttributeValue {
	item := key(c.UserID, skConversation)
	item["status"] = s(string(c.Status))
	item["activeEntryId"] = s(c.ActiveEntryID)
	item["version"] = n(strconv.Itoa(c.Version))
	item["updatedAt"] = s(c.UpdatedAt.UTC().Format(time.RFC3339))
	return item
}

func itemToConversation(userID string, item map[string]types.AttributeValue) (domain.Conversation, error) {
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Conversation{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("decode version: %w", err)
	}
	return domain.Conversation{
		UserID:        userID,
		Status:        domain.ConversationStatus(status),
		ActiveEntryID: optStrAttr(item, "activeEntryId"),
		Version:       version,
		UpdatedAt:     optTimeAttr(item, "updatedAt"),
	}, nil
}

func categoryItem(userID string, c domain.Category) map[string]types.AttributeValue {
	item := key(userID, skPrefixCat+c.Name)
	item["id"] = s(c.ID)
	item["name"] = s(c.Name)
	if c.ParentID != "" {
		item["parentId"] = s(c.ParentID)
	}
	return item
}

func itemToCategory(userID string, item map[string]types.AttributeValue) (domain.Category, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Category{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Category{}, err
	}
	return domain.Category{ID: id, UserID: userID, Name: name, ParentID: optStrAttr(item, "parentId")}, nil
}

func entryItem(userID string, e domain.BudgetEntry) map[string]types.AttributeValue {
	item := key(userID, skPrefixEntry+e.ID)
	item["id"] = s(e.ID)
	item["type"] = s(string(e.Type))
	item["status"] = s(string(e.Status))
	item["categoryId"] = s(e.CategoryID)
	item["categoryName"] = s(e.CategoryName)
	item["description"] = s(e.Description)
	item["value"] = n(e.Value.String())
	if !e.Date.IsZero() {
		item["date"] = s(e.Date.Format(dateLayout))
	}
	item["updatedAt"] = s(e.UpdatedAt.UTC().Format(time.RFC3339))
	return item
}

func itemToEntry(userID string, item map[string]types.AttributeValue) (domain.BudgetEntry, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.BudgetEntry{}, err
	}
	typ, err := strAttr(item, "type")
	if err != nil {
		return domain.BudgetEntry{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.BudgetEntry{}, err
	}
	e := domain.BudgetEntry{
		ID:           id,
		UserID:       userID,
		Type:         domain.EntryType(typ),
		Status:       domain.EntryStatus(status),
		CategoryID:   optStrAttr(item, "categoryId"),
		CategoryName: optStrAttr(item, "categoryName"),
		Description:  optStrAttr(item, "description"),
		UpdatedAt:    optTimeAttr(item, "updatedAt"),
	}
	if raw := optNumAttr(item, "value"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.BudgetEntry{}, fmt.Errorf("decode value: %w", err)
		}
		e.Value = v
	}
	if raw := optStrAttr(item, "date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return domain.BudgetEntry{}, fmt.Errorf("decode date: %w", err)
		}
		e.Date = d
	}
	return e, nil
}

func guardItem(userID string, e domain.BudgetEntry) map[string]types.AttributeValue {
	item := key(userID, skPrefixOpen+string(e.Type))
	item["entryId"] = s(e.ID)
	return item
}

func eventItem(userID, eventID string, now time.Time, ttl time.Duration) map[string]types.AttributeValue {
	item := key(userID, skPrefixEvent+eventID)
	item["processedAt"] = s(now.Format(time.RFC3339))
	item["ttl"] = n(strconv.FormatInt(now.Add(ttl).Unix(), 10))
	return item
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, err := int64Attr(item, key)
	return int(v), err
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	num, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(num.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func optNumAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		return v.Value
	}
	return ""
}

func optTimeAttr(item map[string]types.AttributeValue, key string) time.Time {
	t, err := time.Parse(time.RFC3339, optStrAttr(item, key))
	if err != nil {
		return time.Time{}
	}
	return t
}
