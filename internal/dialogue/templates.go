package dialogue

import (
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"finbot/internal/domain"
)

//go:embed templates.yaml
var defaultTemplates []byte

// ResponseKind names a family of interchangeable reply texts.
type ResponseKind string

const (
	KindGreetings         ResponseKind = "greetings"
	KindIntro             ResponseKind = "intro"
	KindNoAnswer          ResponseKind = "no_answer"
	KindWaiting           ResponseKind = "waiting"
	KindBeginAddCategory  ResponseKind = "begin_add_category"
	KindCategoriesAdded   ResponseKind = "categories_added"
	KindCategoriesIgnored ResponseKind = "categories_ignored"
	KindCategoryList      ResponseKind = "category_list"
	KindNoCategories      ResponseKind = "no_categories"
	KindChooseCategory    ResponseKind = "choose_category"
	KindBeginAddData      ResponseKind = "begin_add_data"
	KindConfirmAddData    ResponseKind = "confirm_add_data"
	KindMalformedEntry    ResponseKind = "malformed_entry"
	KindInvalidDate       ResponseKind = "invalid_date"
	KindEntryDone         ResponseKind = "entry_done"
	KindSorryWrongAdd     ResponseKind = "sorry_wrong_add"
)

var requiredKinds = []ResponseKind{
	KindGreetings, KindIntro, KindNoAnswer, KindWaiting, KindBeginAddCategory,
	KindCategoriesAdded, KindCategoriesIgnored, KindCategoryList, KindNoCategories,
	KindChooseCategory, KindBeginAddData, KindConfirmAddData, KindMalformedEntry,
	KindInvalidDate, KindEntryDone, KindSorryWrongAdd,
}

// KeywordRule maps words found in free text to a response kind.
type KeywordRule struct {
	Kind  ResponseKind `yaml:"kind"`
	Words []string     `yaml:"words"`
}

// Labels are the fixed strings of menus, buttons and formatting.
type Labels struct {
	AddWithdrawal    string `yaml:"add_withdrawal"`
	AddDeposit       string `yaml:"add_deposit"`
	ListCategories   string `yaml:"list_categories"`
	AddCategory      string `yaml:"add_category"`
	Finalize         string `yaml:"finalize"`
	Retry            string `yaml:"retry"`
	Deposit          string `yaml:"deposit"`
	Withdrawal       string `yaml:"withdrawal"`
	Bullet           string `yaml:"bullet"`
	DecimalSeparator string `yaml:"decimal_separator"`
	DateLayout       string `yaml:"date_layout"`
}

// Templates is the immutable response table. Load it once at start-up and
// share it between requests.
type Templates struct {
	Responses map[ResponseKind][]string `yaml:"responses"`
	Keywords  []KeywordRule             `yaml:"keywords"`
	Labels    Labels                    `yaml:"labels"`
}

// DefaultTemplates returns the compiled-in response table.
func DefaultTemplates() (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(defaultTemplates, &t); err != nil {
		return nil, fmt.Errorf("dialogue: decode default templates: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTemplates reads the YAML file at path over the defaults. Kinds, keyword
// rules and labels absent from the file keep their default values. An empty
// path returns the defaults.
func LoadTemplates(path string) (*Templates, error) {
	base, err := DefaultTemplates()
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return base, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dialogue: read templates %s: %w", path, err)
	}
	var override Templates
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("dialogue: decode templates %s: %w", path, err)
	}
	base.merge(override)
	if err := base.validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func (t *Templates) merge(o Templates) {
	for kind, variants := range o.Responses {
		if len(variants) > 0 {
			t.Responses[kind] = variants
		}
	}
	if len(o.Keywords) > 0 {
		t.Keywords = o.Keywords
	}
	mergeLabel(&t.Labels.AddWithdrawal, o.Labels.AddWithdrawal)
	mergeLabel(&t.Labels.AddDeposit, o.Labels.AddDeposit)
	mergeLabel(&t.Labels.ListCategories, o.Labels.ListCategories)
	mergeLabel(&t.Labels.AddCategory, o.Labels.AddCategory)
	mergeLabel(&t.Labels.Finalize, o.Labels.Finalize)
	mergeLabel(&t.Labels.Retry, o.Labels.Retry)
	mergeLabel(&t.Labels.Deposit, o.Labels.Deposit)
	mergeLabel(&t.Labels.Withdrawal, o.Labels.Withdrawal)
	mergeLabel(&t.Labels.Bullet, o.Labels.Bullet)
	mergeLabel(&t.Labels.DecimalSeparator, o.Labels.DecimalSeparator)
	mergeLabel(&t.Labels.DateLayout, o.Labels.DateLayout)
}

func mergeLabel(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (t *Templates) validate() error {
	var missing []string
	for _, kind := range requiredKinds {
		if len(t.Responses[kind]) == 0 {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("dialogue: templates missing responses: %s", strings.Join(missing, ", "))
	}
	if t.Labels.DateLayout == "" {
		return errors.New("dialogue: templates missing date_layout label")
	}
	return nil
}

// Render picks a variant of kind using seed and fills placeholders from vars,
// given as name/value pairs without braces.
func (t *Templates) Render(kind ResponseKind, seed string, vars ...string) string {
	variants := t.Responses[kind]
	if len(variants) == 0 {
		variants = t.Responses[KindNoAnswer]
	}
	if len(variants) == 0 {
		return ""
	}
	text := variants[pick(seed, len(variants))]
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars))
	for i := 0; i+1 < len(vars); i += 2 {
		pairs = append(pairs, "{"+vars[i]+"}", vars[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// MatchKeyword returns the kind of the first rule with a word or phrase that
// appears in text as whole words, so "hi" does not match "this".
func (t *Templates) MatchKeyword(text string) (ResponseKind, bool) {
	padded := wordPad(text)
	if strings.TrimSpace(padded) == "" {
		return "", false
	}
	for _, rule := range t.Keywords {
		for _, w := range rule.Words {
			if pw := wordPad(w); strings.TrimSpace(pw) != "" && strings.Contains(padded, pw) {
				return rule.Kind, true
			}
		}
	}
	return "", false
}

func wordPad(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

// TypeLabel returns the display name of an entry type.
func (t *Templates) TypeLabel(et domain.EntryType) string {
	switch et {
	case domain.EntryDeposit:
		return t.Labels.Deposit
	case domain.EntryWithdrawal:
		return t.Labels.Withdrawal
	}
	return string(et)
}

func pick(seed string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int(h.Sum32() % uint32(n))
}
