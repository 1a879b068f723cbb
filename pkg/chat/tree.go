package chat

import (
	"fmt"
	"slices"
)

// BranchInfo is the 1-based position of a message among its siblings.
type BranchInfo struct {
	Number int
	Count  int
}

// Export is the flat form of a tree handed to history adapters. Messages are
// ordered so that parents precede their children.
type Export struct {
	HeadID   string     `json:"head_id"`
	Messages []*Message `json:"messages"`
}

// MessageTree stores every message of a thread keyed by id, together with a
// parent -> children index and the head of the active path.
//
// Mutating methods change the receiver; callers that need atomic commits work
// on a Clone and swap it in after Validate succeeds.
type MessageTree struct {
	messages map[string]*Message
	children map[string][]string // parent id ("" for roots) -> child ids in arrival order
	selected map[string]string   // parent id -> child followed by the active path
	versions map[string]uint64   // parent id -> bumped on every child insertion
	head     string
}

// NewMessageTree creates an empty tree
func NewMessageTree() *MessageTree {
	return &MessageTree{
		messages: make(map[string]*Message),
		children: make(map[string][]string),
		selected: make(map[string]string),
		versions: make(map[string]uint64),
	}
}

// Clone copies the index structures. Messages are shared, they are immutable.
func (t *MessageTree) Clone() *MessageTree {
	c := &MessageTree{
		messages: make(map[string]*Message, len(t.messages)),
		children: make(map[string][]string, len(t.children)),
		selected: make(map[string]string, len(t.selected)),
		versions: make(map[string]uint64, len(t.versions)),
		head:     t.head,
	}
	for id, m := range t.messages {
		c.messages[id] = m
	}
	for id, kids := range t.children {
		c.children[id] = slices.Clone(kids)
	}
	for id, sel := range t.selected {
		c.selected[id] = sel
	}
	for id, v := range t.versions {
		c.versions[id] = v
	}
	return c
}

func (t *MessageTree) Len() int {
	return len(t.messages)
}

func (t *MessageTree) Get(id string) (*Message, bool) {
	m, ok := t.messages[id]
	return m, ok
}

// Head returns the id of the last message on the active path.
func (t *MessageTree) Head() string {
	return t.head
}

// Children returns the child ids of parentID in arrival order.
func (t *MessageTree) Children(parentID string) []string {
	return slices.Clone(t.children[parentID])
}

// ChildrenVersion changes whenever a child is added under parentID.
func (t *MessageTree) ChildrenVersion(parentID string) uint64 {
	return t.versions[parentID]
}

// Insert adds msg as the newest child of its parent and selects it at that
// branch point. The head is not moved.
func (t *MessageTree) Insert(msg *Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("%w: message without id", ErrCorruptTree)
	}
	if _, exists := t.messages[msg.ID]; exists {
		return fmt.Errorf("%w: duplicate message id %q", ErrCorruptTree, msg.ID)
	}
	if msg.ParentID == msg.ID {
		return fmt.Errorf("%w: message %q is its own parent", ErrCorruptTree, msg.ID)
	}
	if msg.ParentID != "" {
		if _, exists := t.messages[msg.ParentID]; !exists {
			return fmt.Errorf("%w: parent %q of %q not found", ErrCorruptTree, msg.ParentID, msg.ID)
		}
	}

	t.messages[msg.ID] = msg
	t.children[msg.ParentID] = append(t.children[msg.ParentID], msg.ID)
	t.selected[msg.ParentID] = msg.ID
	t.versions[msg.ParentID]++
	return nil
}

// Replace swaps in a new version of an existing message.
func (t *MessageTree) Replace(msg *Message) error {
	prev, exists := t.messages[msg.ID]
	if !exists {
		return fmt.Errorf("%w: message %q not found", ErrCorruptTree, msg.ID)
	}
	if prev.ParentID != msg.ParentID {
		return fmt.Errorf("%w: message %q cannot change parent", ErrCorruptTree, msg.ID)
	}
	t.messages[msg.ID] = msg
	return nil
}

// WithReplaced returns a copy of t holding msg in place of the stored message
// with the same id. Only the message index is copied; the branch indexes are
// shared, so neither tree may be mutated afterwards without a Clone.
func (t *MessageTree) WithReplaced(msg *Message) (*MessageTree, error) {
	prev, exists := t.messages[msg.ID]
	if !exists {
		return nil, fmt.Errorf("%w: message %q not found", ErrCorruptTree, msg.ID)
	}
	if prev.ParentID != msg.ParentID {
		return nil, fmt.Errorf("%w: message %q cannot change parent", ErrCorruptTree, msg.ID)
	}
	if msg.IsRunning() && !prev.IsRunning() {
		for id, m := range t.messages {
			if id != msg.ID && m.IsRunning() {
				return nil, fmt.Errorf("%w: messages %q and %q are both running", ErrCorruptTree, id, msg.ID)
			}
		}
	}

	c := *t
	c.messages = make(map[string]*Message, len(t.messages))
	for id, m := range t.messages {
		c.messages[id] = m
	}
	c.messages[msg.ID] = msg
	return &c, nil
}

// SetHead makes id the end of the active path. An empty id clears the view.
func (t *MessageTree) SetHead(id string) error {
	if id == "" {
		t.head = ""
		return nil
	}
	if _, exists := t.messages[id]; !exists {
		return fmt.Errorf("%w: message %q not found", ErrInvalidTarget, id)
	}
	t.selectPathTo(id)
	t.head = id
	return nil
}

// SelectBranch routes the active path through id and then follows the
// selected child at every later branch point down to a leaf.
func (t *MessageTree) SelectBranch(id string) error {
	if _, exists := t.messages[id]; !exists {
		return fmt.Errorf("%w: message %q not found", ErrInvalidTarget, id)
	}
	t.selectPathTo(id)

	leaf := id
	for {
		kids := t.children[leaf]
		if len(kids) == 0 {
			break
		}
		next, ok := t.selected[leaf]
		if !ok {
			next = kids[len(kids)-1]
		}
		leaf = next
	}
	t.head = leaf
	return nil
}

func (t *MessageTree) selectPathTo(id string) {
	for cur := id; cur != ""; {
		m := t.messages[cur]
		t.selected[m.ParentID] = cur
		cur = m.ParentID
	}
}

// ActivePath returns the messages from the root to the head.
func (t *MessageTree) ActivePath() []*Message {
	return t.PathTo(t.head)
}

// PathTo returns the messages from the root down to and including id.
func (t *MessageTree) PathTo(id string) []*Message {
	var path []*Message
	for cur := id; cur != ""; {
		m, ok := t.messages[cur]
		if !ok || len(path) > len(t.messages) {
			break
		}
		path = append(path, m)
		cur = m.ParentID
	}
	slices.Reverse(path)
	return path
}

// OnActivePath reports whether id lies on the active path.
func (t *MessageTree) OnActivePath(id string) bool {
	for _, m := range t.ActivePath() {
		if m.ID == id {
			return true
		}
	}
	return false
}

// BranchInfo returns the position of id among its siblings.
func (t *MessageTree) BranchInfo(id string) (BranchInfo, bool) {
	m, ok := t.messages[id]
	if !ok {
		return BranchInfo{}, false
	}
	siblings := t.children[m.ParentID]
	return BranchInfo{Number: slices.Index(siblings, id) + 1, Count: len(siblings)}, true
}

// Siblings returns the ids sharing id's parent, including id itself.
func (t *MessageTree) Siblings(id string) []string {
	m, ok := t.messages[id]
	if !ok {
		return nil
	}
	return t.Children(m.ParentID)
}

// Leaves returns the ids of all messages without children, in tree order.
func (t *MessageTree) Leaves() []string {
	var leaves []string
	t.walk(func(m *Message) {
		if len(t.children[m.ID]) == 0 {
			leaves = append(leaves, m.ID)
		}
	})
	return leaves
}

// Validate checks the structural invariants of the tree.
func (t *MessageTree) Validate() error {
	running := ""
	for id, m := range t.messages {
		if m == nil || m.ID != id {
			return fmt.Errorf("%w: index entry %q does not match its message", ErrCorruptTree, id)
		}
		if m.ParentID != "" {
			if _, ok := t.messages[m.ParentID]; !ok {
				return fmt.Errorf("%w: parent %q of %q not found", ErrCorruptTree, m.ParentID, id)
			}
		}
		if !slices.Contains(t.children[m.ParentID], id) {
			return fmt.Errorf("%w: %q missing from its parent's children", ErrCorruptTree, id)
		}
		if m.IsRunning() {
			if running != "" {
				return fmt.Errorf("%w: messages %q and %q are both running", ErrCorruptTree, running, id)
			}
			running = id
		}
		if err := t.checkAcyclic(id); err != nil {
			return err
		}
	}

	if len(t.messages) > 0 && len(t.children[""]) == 0 {
		return fmt.Errorf("%w: no root messages", ErrCorruptTree)
	}
	indexed := 0
	for parentID, kids := range t.children {
		for _, kid := range kids {
			m, ok := t.messages[kid]
			if !ok || m.ParentID != parentID {
				return fmt.Errorf("%w: stale child %q under %q", ErrCorruptTree, kid, parentID)
			}
		}
		indexed += len(kids)
	}
	if indexed != len(t.messages) {
		return fmt.Errorf("%w: child index holds %d entries for %d messages", ErrCorruptTree, indexed, len(t.messages))
	}
	if t.head != "" {
		if _, ok := t.messages[t.head]; !ok {
			return fmt.Errorf("%w: head %q not found", ErrCorruptTree, t.head)
		}
	}
	return nil
}

func (t *MessageTree) checkAcyclic(id string) error {
	steps := 0
	for cur := t.messages[id].ParentID; cur != ""; cur = t.messages[cur].ParentID {
		if cur == id || steps > len(t.messages) {
			return fmt.Errorf("%w: cycle through %q", ErrCorruptTree, id)
		}
		if _, ok := t.messages[cur]; !ok {
			return nil
		}
		steps++
	}
	return nil
}

// walk visits every message parents-first, children in arrival order.
func (t *MessageTree) walk(visit func(*Message)) {
	var rec func(parentID string)
	rec = func(parentID string) {
		for _, id := range t.children[parentID] {
			visit(t.messages[id])
			rec(id)
		}
	}
	rec("")
}

// Export flattens the tree for persistence.
func (t *MessageTree) Export() Export {
	messages := make([]*Message, 0, len(t.messages))
	t.walk(func(m *Message) {
		messages = append(messages, m)
	})
	return Export{HeadID: t.head, Messages: messages}
}

// ImportTree rebuilds a tree from an export. Parents may appear after their
// children; the result is validated before it is returned.
func ImportTree(export Export) (*MessageTree, error) {
	t := NewMessageTree()
	for _, m := range export.Messages {
		if m == nil || m.ID == "" {
			return nil, fmt.Errorf("%w: message without id", ErrCorruptTree)
		}
		if _, exists := t.messages[m.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate message id %q", ErrCorruptTree, m.ID)
		}
		t.messages[m.ID] = m
	}
	for _, m := range export.Messages {
		t.children[m.ParentID] = append(t.children[m.ParentID], m.ID)
		t.selected[m.ParentID] = m.ID
		t.versions[m.ParentID]++
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if export.HeadID != "" {
		if err := t.SetHead(export.HeadID); err != nil {
			return nil, err
		}
	}
	return t, nil
}
