package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Ticket is one change request held by the in-memory store. Sections maps a
// markdown heading to its body text.
type Ticket struct {
	Key      string
	Title    string
	Status   string
	Sections map[string]string
}

// Store is an in-memory ticket backend implementing Executor. It backs the
// default server and the test suites; a production deployment substitutes
// its own Executor at construction time.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket // keyed by project/key
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{tickets: make(map[string]*Ticket)}
}

// Put inserts or replaces a ticket
func (s *Store) Put(project string, t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[storeKey(project, t.Key)] = t
}

// Execute implements Executor by dispatching on the tool name
func (s *Store) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "get_cr":
		return s.getCR(args)
	case "get_cr_section":
		return s.getCRSection(args)
	case "update_cr_section":
		return s.updateCRSection(args)
	case "list_crs":
		return s.listCRs(args)
	default:
		return "", fmt.Errorf("unknown tool %q, available tools: %s", name, s.toolNames())
	}
}

func (s *Store) toolNames() string {
	names := make([]string, 0, 4)
	for _, t := range Catalog() {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

type ticketArgs struct {
	Project string `json:"project"`
	Key     string `json:"key"`
	Section string `json:"section"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func decodeArgs(raw json.RawMessage) (*ticketArgs, error) {
	var a ticketArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	return &a, nil
}

func (s *Store) getCR(raw json.RawMessage) (string, error) {
	a, err := decodeArgs(raw)
	if err != nil {
		return "", err
	}
	if a.Project == "" || a.Key == "" {
		return "", fmt.Errorf("project and key are required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[storeKey(a.Project, a.Key)]
	if !ok {
		return "", fmt.Errorf("ticket %s not found in project %s", a.Key, a.Project)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\nStatus: %s\n", t.Key, t.Title, t.Status)
	for _, heading := range sortedHeadings(t.Sections) {
		fmt.Fprintf(&b, "\n%s\n%s\n", heading, t.Sections[heading])
	}
	return b.String(), nil
}

func (s *Store) getCRSection(raw json.RawMessage) (string, error) {
	a, err := decodeArgs(raw)
	if err != nil {
		return "", err
	}
	if a.Project == "" || a.Key == "" || a.Section == "" {
		return "", fmt.Errorf("project, key and section are required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[storeKey(a.Project, a.Key)]
	if !ok {
		return "", fmt.Errorf("ticket %s not found in project %s", a.Key, a.Project)
	}
	body, ok := t.Sections[a.Section]
	if !ok {
		return "", fmt.Errorf("section %q not found in %s", a.Section, t.Key)
	}
	return body, nil
}

func (s *Store) updateCRSection(raw json.RawMessage) (string, error) {
	a, err := decodeArgs(raw)
	if err != nil {
		return "", err
	}
	if a.Project == "" || a.Key == "" || a.Section == "" {
		return "", fmt.Errorf("project, key and section are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[storeKey(a.Project, a.Key)]
	if !ok {
		return "", fmt.Errorf("ticket %s not found in project %s", a.Key, a.Project)
	}
	if t.Sections == nil {
		t.Sections = make(map[string]string)
	}
	t.Sections[a.Section] = a.Content
	return fmt.Sprintf("updated %s of %s", a.Section, t.Key), nil
}

func (s *Store) listCRs(raw json.RawMessage) (string, error) {
	a, err := decodeArgs(raw)
	if err != nil {
		return "", err
	}
	if a.Project == "" {
		return "", fmt.Errorf("project is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.ToUpper(a.Project) + "/"
	var lines []string
	for k, t := range s.tickets {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if a.Status != "" && !strings.EqualFold(a.Status, t.Status) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", t.Key, t.Status, t.Title))
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return "no tickets", nil
	}
	return strings.Join(lines, "\n"), nil
}

func storeKey(project, key string) string {
	return strings.ToUpper(project) + "/" + strings.ToUpper(key)
}

func sortedHeadings(sections map[string]string) []string {
	headings := make([]string, 0, len(sections))
	for h := range sections {
		headings = append(headings, h)
	}
	sort.Strings(headings)
	return headings
}

// SeedDemo loads a handful of tickets so a fresh server answers something
func SeedDemo(s *Store) {
	s.Put("MDT", &Ticket{
		Key:    "MDT-001",
		Title:  "Introduce session registry",
		Status: "done",
		Sections: map[string]string{
			"## Description":         "Track streaming clients across reconnects.",
			"## Acceptance Criteria": "Sessions expire after 30 minutes of inactivity.",
		},
	})
	s.Put("MDT", &Ticket{
		Key:    "MDT-002",
		Title:  "Rate limit tool calls",
		Status: "in-progress",
		Sections: map[string]string{
			"## Description": "Per-tool token buckets in front of the executor.",
		},
	})
}
