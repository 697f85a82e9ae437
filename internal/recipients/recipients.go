// Package recipients loads grouped recipient lists and normalizes their
// entries into validated addresses.
//
// A recipients file is a mapping of group name to a list of entries. Each
// entry is either a bare address string or a record with an "email" and an
// optional "name". Group order follows the file.
package recipients

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
)

// ErrInvalidShape is returned when the file is not a mapping of group name
// to list of entries.
var ErrInvalidShape = errors.New("recipients file must map group names to lists")

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// EntryKind tells how an entry was written in the file.
type EntryKind int

const (
	// KindUnknown is any shape that is neither a string nor a record.
	KindUnknown EntryKind = iota
	// KindAddress is a bare address string.
	KindAddress
	// KindRecord is an object with "email" and optional "name".
	KindRecord
)

// Entry is one raw item of a group, before validation.
type Entry struct {
	Kind  EntryKind
	Email string
	Name  string
}

// Recipient is a normalized entry with a syntactically valid address.
type Recipient struct {
	Email string
	Name  string
}

// Group is a named list of raw entries.
type Group struct {
	Name    string
	Entries []Entry
}

// Book is the ordered set of groups read from a recipients file.
type Book struct {
	Groups []Group
}

// LoadFromFile reads the recipients file at path.
func LoadFromFile(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON recipients document, keeping group order. A key
// that appears twice keeps its first position and its last value.
func Parse(data []byte) (*Book, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, ErrInvalidShape
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipients file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrInvalidShape
	}

	book := &Book{}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse recipients file: %w", err)
		}
		name, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("failed to parse recipients file: %w", err)
		}
		if firstByte(value) != '[' {
			return nil, fmt.Errorf("%w: group %q is not a list", ErrInvalidShape, name)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, fmt.Errorf("failed to parse recipients file: %w", err)
		}

		entries := make([]Entry, 0, len(items))
		for _, item := range items {
			entries = append(entries, decodeEntry(item))
		}

		if pos, ok := index[name]; ok {
			book.Groups[pos].Entries = entries
			continue
		}
		index[name] = len(book.Groups)
		book.Groups = append(book.Groups, Group{Name: name, Entries: entries})
	}

	// closing brace, then nothing but whitespace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to parse recipients file: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse recipients file: trailing data after document")
	}

	return book, nil
}

var utf8BOM = []byte("\xef\xbb\xbf")

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// decodeEntry classifies a single list item.
func decodeEntry(raw json.RawMessage) Entry {
	switch firstByte(raw) {
	case '"':
		var addr string
		if err := json.Unmarshal(raw, &addr); err != nil {
			return Entry{Kind: KindUnknown}
		}
		return Entry{Kind: KindAddress, Email: addr}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Entry{Kind: KindUnknown}
		}
		e := Entry{Kind: KindRecord}
		e.Email, _ = stringField(fields, "email")
		e.Name, _ = stringField(fields, "name")
		return e
	default:
		return Entry{Kind: KindUnknown}
	}
}

// stringField returns fields[key] when it holds a JSON string.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || firstByte(raw) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Names returns the group names in file order.
func (b *Book) Names() []string {
	names := make([]string, 0, len(b.Groups))
	for _, g := range b.Groups {
		names = append(names, g.Name)
	}
	return names
}

// Lookup returns the group with the given name.
func (b *Book) Lookup(name string) (Group, bool) {
	for _, g := range b.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// All concatenates the entries of every group in file order.
func (b *Book) All() []Entry {
	var all []Entry
	for _, g := range b.Groups {
		all = append(all, g.Entries...)
	}
	return all
}

// Select returns the normalized recipients of one group, or of every group
// when all is true. An unknown group yields no recipients.
func (b *Book) Select(group string, all bool) []Recipient {
	if all {
		return Normalize(b.All())
	}
	g, ok := b.Lookup(group)
	if !ok {
		return nil
	}
	return Normalize(g.Entries)
}

// Normalize keeps, in order, the entries carrying a valid address. Entries
// of unknown shape and invalid addresses are dropped without error.
func Normalize(entries []Entry) []Recipient {
	out := make([]Recipient, 0, len(entries))
	for i, e := range entries {
		if e.Kind == KindUnknown {
			slog.Debug("dropping recipient entry", "index", i, "reason", "unrecognized shape")
			continue
		}
		if !ValidEmail(e.Email) {
			slog.Debug("dropping recipient entry", "index", i, "email", e.Email, "reason", "invalid address")
			continue
		}
		out = append(out, Recipient{Email: e.Email, Name: e.Name})
	}
	return out
}

// Entries converts normalized recipients back into record entries.
func Entries(rs []Recipient) []Entry {
	out := make([]Entry, 0, len(rs))
	for _, r := range rs {
		out = append(out, Entry{Kind: KindRecord, Email: r.Email, Name: r.Name})
	}
	return out
}

// ValidEmail reports whether addr looks like local@domain.tld. It is a
// syntactic check only.
func ValidEmail(addr string) bool {
	return addr != "" && emailPattern.MatchString(addr)
}
