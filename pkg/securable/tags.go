package securable

// Tag is one key/value metadata pair on a securable.
type Tag struct {
	Key   string
	Value string
}

// TagList is an ordered list of tags with unique keys. Order is the order
// of first insertion; setting an existing key keeps its position.
type TagList struct {
	tags []Tag
}

// NewTagList builds a tag list from the given tags. Later duplicates of a
// key are ignored so the first occurrence wins.
func NewTagList(tags ...Tag) *TagList {
	l := &TagList{}
	for _, t := range tags {
		l.Append(t.Key, t.Value)
	}
	return l
}

// Get returns the value for key and whether the key is present.
func (l *TagList) Get(key string) (string, bool) {
	for _, t := range l.tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (l *TagList) Has(key string) bool {
	_, ok := l.Get(key)
	return ok
}

// Append adds a tag only if its key is not already present. It returns
// true if the tag was added. Existing tags are never overwritten; that is
// the contract convention propagation relies on.
func (l *TagList) Append(key, value string) bool {
	if l.Has(key) {
		return false
	}
	l.tags = append(l.tags, Tag{Key: key, Value: value})
	return true
}

// Set adds or replaces the tag for key, preserving list order on replace.
func (l *TagList) Set(key, value string) {
	for i, t := range l.tags {
		if t.Key == key {
			l.tags[i].Value = value
			return
		}
	}
	l.tags = append(l.tags, Tag{Key: key, Value: value})
}

// All returns the tags in order.
func (l *TagList) All() []Tag {
	return append([]Tag(nil), l.tags...)
}

// Len returns the number of tags.
func (l *TagList) Len() int {
	return len(l.tags)
}

// AsMap returns the tags as a key/value map.
func (l *TagList) AsMap() map[string]string {
	out := make(map[string]string, len(l.tags))
	for _, t := range l.tags {
		out[t.Key] = t.Value
	}
	return out
}
