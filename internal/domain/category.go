package domain

// Category groups entries of one user. Name is unique per user and compared
// case-sensitively.
type Category struct {
	ID       string
	UserID   string
	Name     string
	ParentID string
}

// CategoryNames returns the names of cats in order.
func CategoryNames(cats []Category) []string {
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}
	return names
}

// FindCategory returns the category named name, if any.
func FindCategory(cats []Category, name string) (Category, bool) {
	for _, c := range cats {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}
