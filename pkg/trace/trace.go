// Package trace implements the trace store primitive (spec §4.12):
// append-only, hierarchical entries recording an agent's reasoning
// (thoughts, actions, observations, tool calls, messages), queryable by
// type, parent, tag, and time range. Like every other primitive, it is a
// thin transaction-scripting layer over pkg/storage; a trace entry is
// just one more versioned key under the Trace tag.
package trace

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb/strata/pkg/errors"
	"github.com/stratadb/strata/pkg/key"
	"github.com/stratadb/strata/pkg/slog"
	"github.com/stratadb/strata/pkg/storage"
	"github.com/stratadb/strata/pkg/value"
)

// Type categorizes a trace entry. The five reserved names are spec
// constants; any other string is a caller-defined custom type (the
// original's Custom(String) variant collapses to the same representation
// in Go -- there is no second case to switch on).
type Type string

const (
	Thought     Type = "Thought"
	Action      Type = "Action"
	Observation Type = "Observation"
	Tool        Type = "Tool"
	Message     Type = "Message"
)

// Entry is one trace record.
type Entry struct {
	ID        string
	Type      Type
	ParentID  string // "" means no parent
	Content   value.Value
	Tags      []string
	CreatedAt uint64 // microseconds since Unix epoch
	Version   uint64
}

// Store implements the trace primitive over one Database.
type Store struct {
	db *storage.Database
}

// New wraps db as a trace store.
func New(db *storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) encode(run key.RunID, id string) []byte {
	return key.Trace(run, id).Encode()
}

func encodeEntry(e Entry) value.Value {
	tags := make([]value.Value, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = value.String(t)
	}
	parent := value.Null()
	if e.ParentID != "" {
		parent = value.String(e.ParentID)
	}
	return value.Object([]value.ObjectField{
		{Key: "id", Value: value.String(e.ID)},
		{Key: "type", Value: value.String(string(e.Type))},
		{Key: "parent_id", Value: parent},
		{Key: "content", Value: e.Content},
		{Key: "tags", Value: value.Array(tags)},
		{Key: "created_at", Value: value.Int(int64(e.CreatedAt))},
	})
}

func decodeEntry(v value.Value, version uint64) Entry {
	var e Entry
	e.Version = version
	if f, ok := v.ObjectGet("id"); ok {
		e.ID, _ = f.AsString()
	}
	if f, ok := v.ObjectGet("type"); ok {
		s, _ := f.AsString()
		e.Type = Type(s)
	}
	if f, ok := v.ObjectGet("parent_id"); ok && !f.IsNull() {
		e.ParentID, _ = f.AsString()
	}
	if f, ok := v.ObjectGet("content"); ok {
		e.Content = f
	}
	if f, ok := v.ObjectGet("tags"); ok {
		if arr, ok := f.AsArray(); ok {
			e.Tags = make([]string, len(arr))
			for i, t := range arr {
				e.Tags[i], _ = t.AsString()
			}
		}
	}
	if f, ok := v.ObjectGet("created_at"); ok {
		if n, ok := f.AsInt(); ok {
			e.CreatedAt = uint64(n)
		}
	}
	return e
}

// Create adds a new trace entry under run and returns its generated ID
// and commit version. content must be an Object. parentID == "" means
// root. A parentID that does not resolve to an existing trace is
// permitted (the trace becomes an orphan) per spec §4.12; it is logged
// as a warning rather than rejected.
func (s *Store) Create(run key.RunID, traceType Type, parentID string, content value.Value, tags []string) (string, uint64, error) {
	if content.Kind() != value.KindObject {
		return "", 0, &errors.ConstraintViolation{Reason: "trace content must be an Object"}
	}
	if err := s.db.Runs.RequireActive(run); err != nil {
		return "", 0, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", 0, err
	}

	if parentID != "" {
		if _, ok, _ := s.Get(run, parentID); !ok {
			slog.WithComponent("trace").Warn().
				Str("run", run.String()).
				Str("parent_id", parentID).
				Msg("trace created with missing parent; recorded as orphan")
		}
	}

	entry := Entry{
		ID:        id.String(),
		Type:      traceType,
		ParentID:  parentID,
		Content:   content,
		Tags:      tags,
		CreatedAt: uint64(time.Now().UnixMicro()),
	}

	encoded := s.encode(run, entry.ID)
	txn := s.db.Coordinator.BeginTxn()
	txn.Put(encoded, encodeEntry(entry))
	if err := txn.Commit(); err != nil {
		return "", 0, err
	}
	return entry.ID, s.db.Store.HeadVersion(encoded), nil
}

// CreateWithID is reserved per spec §4.12 ("create_with_id ... reserved
// but not implemented") and always fails.
func (s *Store) CreateWithID(run key.RunID, id string, traceType Type, parentID string, content value.Value, tags []string) (uint64, error) {
	return 0, &errors.ConstraintViolation{Reason: "trace_create_with_id is reserved and not implemented"}
}

// UpdateTags is reserved per spec §4.12 ("update_tags ... reserved but
// not implemented"; traces are append-only) and always fails.
func (s *Store) UpdateTags(run key.RunID, id string, addTags, removeTags []string) (uint64, error) {
	return 0, &errors.ConstraintViolation{Reason: "trace_update_tags is reserved and not implemented: traces are append-only"}
}

// Get returns the trace entry with id, or ok=false if it does not exist.
func (s *Store) Get(run key.RunID, id string) (Entry, bool, error) {
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	encoded := s.encode(run, id)
	v, ok := txn.Get(encoded)
	if !ok {
		return Entry{}, false, nil
	}
	return decodeEntry(v, txn.ObservedVersion(encoded)), true, nil
}

// scanAll returns every trace entry in run, in no particular order.
func (s *Store) scanAll(run key.RunID) ([]Entry, error) {
	txn := s.db.Coordinator.BeginTxn()
	defer txn.Rollback()

	scanned := txn.Snapshot().ScanPrefix(key.Prefix(run, key.TagTrace, ""))
	out := make([]Entry, 0, len(scanned))
	for _, se := range scanned {
		out = append(out, decodeEntry(se.Entry.Value, se.Entry.Version))
	}
	return out, nil
}

func hasTag(e Entry, tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParentFilter distinguishes "no parent filter" from "filter by parent",
// including the "roots only" case (a filter with ParentID == "" set).
type ParentFilter struct {
	Set      bool
	ParentID string // "" means roots only
}

// ListOptions controls trace_list's filters.
type ListOptions struct {
	Type     *Type
	Parent   ParentFilter
	Tag      string // "" means no tag filter
	Limit    int    // 0 means unbounded
	Before   *uint64
}

// List returns traces matching every set filter, newest first (by
// version, which is globally monotone across commits -- see pkg/state's
// counter-equals-version design for the same reasoning).
func (s *Store) List(run key.RunID, opts ListOptions) ([]Entry, error) {
	all, err := s.scanAll(run)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if opts.Type != nil && e.Type != *opts.Type {
			continue
		}
		if opts.Parent.Set {
			if opts.Parent.ParentID == "" && e.ParentID != "" {
				continue
			}
			if opts.Parent.ParentID != "" && e.ParentID != opts.Parent.ParentID {
				continue
			}
		}
		if opts.Tag != "" && !hasTag(e, opts.Tag) {
			continue
		}
		if opts.Before != nil && e.Version >= *opts.Before {
			continue
		}
		out = append(out, e)
	}

	sortNewestFirst(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func sortNewestFirst(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Version > entries[j-1].Version; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Children returns every trace whose parent is parentID.
func (s *Store) Children(run key.RunID, parentID string) ([]Entry, error) {
	return s.List(run, ListOptions{Parent: ParentFilter{Set: true, ParentID: parentID}})
}

// Tree returns rootID and every descendant, pre-order (parent before
// children). Returns an empty slice if rootID does not exist.
func (s *Store) Tree(run key.RunID, rootID string) ([]Entry, error) {
	root, ok, err := s.Get(run, rootID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	all, err := s.scanAll(run)
	if err != nil {
		return nil, err
	}
	byParent := make(map[string][]Entry)
	for _, e := range all {
		byParent[e.ParentID] = append(byParent[e.ParentID], e)
	}

	var out []Entry
	var walk func(Entry)
	walk = func(e Entry) {
		out = append(out, e)
		for _, c := range byParent[e.ID] {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

// QueryByTag returns every trace in run carrying tag.
func (s *Store) QueryByTag(run key.RunID, tag string) ([]Entry, error) {
	return s.List(run, ListOptions{Tag: tag})
}

// QueryByTime returns every trace created within [startMs, endMs]
// (inclusive), expressed in milliseconds since the Unix epoch.
func (s *Store) QueryByTime(run key.RunID, startMs, endMs int64) ([]Entry, error) {
	all, err := s.scanAll(run)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		createdMs := int64(e.CreatedAt / 1000)
		if createdMs >= startMs && createdMs <= endMs {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Count returns the number of traces in run.
func (s *Store) Count(run key.RunID) (uint64, error) {
	all, err := s.scanAll(run)
	if err != nil {
		return 0, err
	}
	return uint64(len(all)), nil
}

// SearchHit is one trace_search result.
type SearchHit struct {
	ID    string
	Score float32
}

// Search performs a case-insensitive substring search over each trace's
// ID, tags, and every string field of its content, scoring by the number of
// matching occurrences. No repo in the example corpus carries a
// full-text/inverted-index dependency to reach for (spec §4.12 and §1
// both leave full-text search's implementation to "external
// collaborators"), so this is a direct linear scan -- acceptable for the
// trace volume one run accumulates, and correct regardless of corpus
// size since every hit is still scored.
func (s *Store) Search(run key.RunID, query string, k int) ([]SearchHit, error) {
	if query == "" {
		return nil, nil
	}
	all, err := s.scanAll(run)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)

	var hits []SearchHit
	for _, e := range all {
		count := strings.Count(strings.ToLower(e.ID), q)
		for _, tag := range e.Tags {
			count += strings.Count(strings.ToLower(tag), q)
		}
		count += countInValue(e.Content, q)
		if count > 0 {
			hits = append(hits, SearchHit{ID: e.ID, Score: float32(count)})
		}
	}

	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func countInValue(v value.Value, q string) int {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return strings.Count(strings.ToLower(s), q)
	case value.KindArray:
		arr, _ := v.AsArray()
		total := 0
		for _, e := range arr {
			total += countInValue(e, q)
		}
		return total
	case value.KindObject:
		fields, _ := v.AsObject()
		total := 0
		for _, f := range fields {
			total += countInValue(f.Value, q)
		}
		return total
	default:
		return 0
	}
}
