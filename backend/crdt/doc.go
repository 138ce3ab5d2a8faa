// Package crdt implements replicated documents: a block store ordered by
// causal ids, shared Text, Array, Map and Xml types, transactions with
// change events, and the binary update format used to exchange changes.
package crdt

import (
	"math/rand/v2"
	"strings"
	"ydoc-node/backend/encoding"
	"ydoc-node/backend/types"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// maxClientID is the largest client id that survives a float64 round trip.
const maxClientID = 1<<53 - 1

// OffsetKind selects the unit of text positions.
type OffsetKind uint8

const (
	// OffsetBytes counts UTF-8 bytes.
	OffsetBytes OffsetKind = iota
	// OffsetUTF16 counts UTF-16 code units.
	OffsetUTF16
	// OffsetUTF32 counts code points.
	OffsetUTF32
)

func (k OffsetKind) String() string {
	switch k {
	case OffsetUTF16:
		return "utf16"
	case OffsetUTF32:
		return "utf32"
	}
	return "bytes"
}

// ParseOffsetKind accepts "byte", "bytes", "utf8", "utf16" and "utf32",
// ignoring case and hyphens.
func ParseOffsetKind(s string) (OffsetKind, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "") {
	case "byte", "bytes", "utf8":
		return OffsetBytes, nil
	case "utf16":
		return OffsetUTF16, nil
	case "utf32":
		return OffsetUTF32, nil
	}
	return 0, xerrors.Errorf("'%s' is not a valid offset kind (utf8, utf16, or utf32): %w", s, types.ErrConfig)
}

// Option configures a Doc.
type Option func(*Doc) error

// WithClientID sets the replica id. It must be unique among the replicas
// editing the document.
func WithClientID(id uint64) Option {
	return func(d *Doc) error {
		if id > maxClientID {
			return xerrors.Errorf("client id %d exceeds 53 bits: %w", id, types.ErrConfig)
		}
		d.clientID = id
		return nil
	}
}

// WithOffsetKind sets how text indices are measured.
func WithOffsetKind(kind string) Option {
	return func(d *Doc) error {
		k, err := ParseOffsetKind(kind)
		if err != nil {
			return err
		}
		d.offsetKind = k
		return nil
	}
}

// WithSkipGC keeps the content of deleted items forever.
func WithSkipGC(skip bool) Option {
	return func(d *Doc) error {
		d.skipGC = skip
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Doc) error {
		d.log = l
		return nil
	}
}

// Doc is a replicated document holding named root types. A Doc is not
// safe for concurrent use; callers serialize access.
type Doc struct {
	clientID   uint64
	offsetKind OffsetKind
	skipGC     bool
	log        zerolog.Logger

	store *store
	roots map[string]*branch
	txn   *Transaction

	afterTxn handlers[*AfterTransactionEvent]
	updates  handlers[updateEvent]
}

// NewDoc creates an empty document. Without WithClientID the client id is
// random.
func NewDoc(opts ...Option) (*Doc, error) {
	d := &Doc{
		clientID: generateClientID(),
		log:      zerolog.Nop(),
		store:    newStore(),
		roots:    make(map[string]*branch),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func generateClientID() uint64 {
	return rand.Uint64N(maxClientID) + 1
}

func (d *Doc) ClientID() uint64       { return d.clientID }
func (d *Doc) OffsetKind() OffsetKind { return d.offsetKind }
func (d *Doc) SkipGC() bool           { return d.skipGC }

// rootBranch returns the root called name, creating an untyped one when
// an update references it first.
func (d *Doc) rootBranch(name string) *branch {
	b, ok := d.roots[name]
	if !ok {
		b = newBranch(types.TagUndefined)
		b.doc, b.name = d, name
		d.roots[name] = b
	}
	return b
}

// GetOrCreateRoot returns the root type called name. Asking for an
// existing name with another type fails with ErrTypeMismatch.
func (d *Doc) GetOrCreateRoot(name string, tag types.TypeTag) (types.Shared, error) {
	if !tag.Valid() || tag == types.TagXmlHook {
		return nil, xerrors.Errorf("%s cannot be a root type: %w", tag, types.ErrTypeMismatch)
	}
	b, ok := d.roots[name]
	if !ok && d.txn != nil {
		return nil, xerrors.Errorf("root %q cannot be created while a transaction is open: %w",
			name, types.ErrTransactionConflict)
	}
	b = d.rootBranch(name)
	switch b.tag {
	case tag:
	case types.TagUndefined:
		b.tag = tag
		if tag == types.TagXmlElement {
			b.nodeName = "UNDEFINED"
		}
	default:
		return nil, xerrors.Errorf("root %q is a %s, not a %s: %w", name, b.tag, tag, types.ErrTypeMismatch)
	}
	return b.wrap(), nil
}

func (d *Doc) GetText(name string) (*Text, error) {
	s, err := d.GetOrCreateRoot(name, types.TagText)
	if err != nil {
		return nil, err
	}
	return s.(*Text), nil
}

func (d *Doc) GetArray(name string) (*Array, error) {
	s, err := d.GetOrCreateRoot(name, types.TagArray)
	if err != nil {
		return nil, err
	}
	return s.(*Array), nil
}

func (d *Doc) GetMap(name string) (*Map, error) {
	s, err := d.GetOrCreateRoot(name, types.TagMap)
	if err != nil {
		return nil, err
	}
	return s.(*Map), nil
}

func (d *Doc) GetXmlElement(name string) (*XmlElement, error) {
	s, err := d.GetOrCreateRoot(name, types.TagXmlElement)
	if err != nil {
		return nil, err
	}
	return s.(*XmlElement), nil
}

func (d *Doc) GetXmlFragment(name string) (*XmlFragment, error) {
	s, err := d.GetOrCreateRoot(name, types.TagXmlFragment)
	if err != nil {
		return nil, err
	}
	return s.(*XmlFragment), nil
}

func (d *Doc) GetXmlText(name string) (*XmlText, error) {
	s, err := d.GetOrCreateRoot(name, types.TagXmlText)
	if err != nil {
		return nil, err
	}
	return s.(*XmlText), nil
}

// RootNames returns the names of all roots, sorted.
func (d *Doc) RootNames() []string {
	return types.SortedKeys(d.roots)
}

// BeginTransaction opens the single transaction of the document. It fails
// with ErrTransactionConflict while another one is open, including from
// observers running during a commit.
func (d *Doc) BeginTransaction() (*Transaction, error) {
	return d.begin(nil, true)
}

// BeginTransactionWithOrigin is BeginTransaction with an origin reported
// to observers and update handlers.
func (d *Doc) BeginTransactionWithOrigin(origin any) (*Transaction, error) {
	return d.begin(origin, true)
}

func (d *Doc) begin(origin any, local bool) (*Transaction, error) {
	if d.txn != nil {
		return nil, types.ErrTransactionConflict
	}
	d.txn = newTransaction(d, origin, local)
	return d.txn, nil
}

// Transact runs fn in a new transaction and commits it, also when fn
// fails. The error of fn takes precedence.
func (d *Doc) Transact(fn func(txn *Transaction) error) error {
	return d.TransactWithOrigin(nil, fn)
}

func (d *Doc) TransactWithOrigin(origin any, fn func(txn *Transaction) error) error {
	txn, err := d.BeginTransactionWithOrigin(origin)
	if err != nil {
		return err
	}
	ferr := fn(txn)
	cerr := txn.Commit()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// EncodeStateVector returns the encoded state vector of the document.
func (d *Doc) EncodeStateVector() []byte {
	return d.store.stateVector().Encode()
}

// StateVector returns a copy of the current state vector.
func (d *Doc) StateVector() StateVector {
	return d.store.stateVector()
}

// EncodeDiffSince encodes everything the holder of the encoded state
// vector sv is missing, including blocks still waiting for dependencies.
// An empty sv encodes the whole document.
func (d *Doc) EncodeDiffSince(sv []byte) ([]byte, error) {
	target := StateVector{}
	if len(sv) > 0 {
		var err error
		if target, err = DecodeStateVector(sv); err != nil {
			return nil, err
		}
	}
	return d.encodeDiff(target)
}

func (d *Doc) encodeDiff(target StateVector) ([]byte, error) {
	enc := encoding.NewEncoder()
	if err := writeClientsStructs(enc, d.store, target); err != nil {
		return nil, err
	}
	deleteSetFromStore(d.store).write(enc)

	updates := [][]byte{enc.Bytes()}
	if len(d.store.pendingDeletes) > 0 {
		updates = append(updates, encodeDeleteSetUpdate(d.store.pendingDeletes))
	}
	if d.store.pendingStructs != nil {
		updates = append(updates, d.store.pendingStructs)
	}
	if len(updates) == 1 {
		return updates[0], nil
	}
	return mergeUpdates(updates, target)
}

// ApplyUpdate integrates a remote update in its own transaction.
func (d *Doc) ApplyUpdate(update []byte) error {
	return d.ApplyUpdateWithOrigin(update, nil)
}

// ApplyUpdateWithOrigin applies update with origin reported to observers.
// The update is decoded completely before anything is integrated, so a
// malformed update leaves the document unchanged.
func (d *Doc) ApplyUpdateWithOrigin(update []byte, origin any) error {
	txn, err := d.begin(origin, false)
	if err != nil {
		return err
	}
	aerr := txn.applyUpdate(update)
	if aerr != nil {
		d.log.Error().Err(aerr).Int("bytes", len(update)).Msg("failed to apply update")
	}
	cerr := txn.Commit()
	if aerr != nil {
		return aerr
	}
	return cerr
}

// ObserveUpdate registers fn for the encoded update of every transaction
// that changed the document.
func (d *Doc) ObserveUpdate(fn func(update []byte, origin any)) *Subscription {
	return d.updates.add(func(e updateEvent) {
		fn(e.update, e.origin)
	})
}

func (d *Doc) UnobserveUpdate(sub *Subscription) bool {
	return d.updates.remove(sub)
}

// ObserveAfterTransaction registers fn for every transaction that changed
// the document, after all type observers ran.
func (d *Doc) ObserveAfterTransaction(fn func(*AfterTransactionEvent)) *Subscription {
	return d.afterTxn.add(fn)
}

func (d *Doc) UnobserveAfterTransaction(sub *Subscription) bool {
	return d.afterTxn.remove(sub)
}

// PendingCount returns how many blocks wait for missing dependencies.
func (d *Doc) PendingCount() int {
	if d.store.pendingStructs == nil {
		return 0
	}
	n, err := countStructs(d.store.pendingStructs)
	if err != nil {
		d.log.Error().Err(err).Msg("pending structs are unreadable")
		return 0
	}
	return n
}

// ToJSON exports every root. Roots only known from remote updates are
// exported by the shape of their content.
func (d *Doc) ToJSON() map[string]any {
	out := make(map[string]any, len(d.roots))
	for name, b := range d.roots {
		if b.tag != types.TagUndefined {
			out[name] = b.wrap().ToJSON()
			continue
		}
		out[name] = undefinedJSON(b)
	}
	return out
}

func undefinedJSON(b *branch) any {
	for it := b.start; it != nil; it = it.right {
		switch it.content.(type) {
		case *contentString, *contentFormat:
			return (&Text{b: b}).String()
		}
	}
	if b.start != nil {
		return (&Array{b: b}).ToJSON()
	}
	return (&Map{b: b}).ToJSON()
}
