// Package replica implements the Replica Store: a single-writer actor
// owning one node's key/value map and the Merkle tree summarizing it
// (spec.md §4.4), plus the capability interface the Coordinator and
// anti-entropy synchronizer use to reach it.
package replica

import (
	"context"
	"errors"

	"github.com/mini-dynamo/mini-dynamo/internal/merkle"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

// ErrClosed is returned by any operation issued after the store's mailbox
// has been shut down.
var ErrClosed = errors.New("replica: store closed")

type opKind int

const (
	opGet opKind = iota
	opPut
	opGetAll
	opGetMerkle
)

type mailboxMsg struct {
	kind  opKind
	key   string
	value []byte
	vc    versioning.VectorClock
	ts    int64
	reply chan mailboxReply
}

type mailboxReply struct {
	versioned versioning.Versioned
	found     bool
	failed    bool
	all       map[string]versioning.Versioned
	tree      *merkle.Tree
}

// Store is a single node's key/value map, serialized through its mailbox
// channel so that every Get/Put/GetAll/GetMerkle call is handled by
// exactly one goroutine and never races another.
type Store struct {
	nodeID   string
	mailbox  chan mailboxMsg
	shutdown chan struct{}
}

// NewStore creates a Store and starts its actor goroutine. Callers must
// call Close to stop it.
func NewStore(nodeID string) *Store {
	s := &Store{
		nodeID:   nodeID,
		mailbox:  make(chan mailboxMsg),
		shutdown: make(chan struct{}),
	}
	go s.run()
	return s
}

// NodeID returns the node this store belongs to.
func (s *Store) NodeID() string {
	return s.nodeID
}

// Close stops the actor goroutine. Pending requests in flight may be
// dropped; callers racing Close with a request must tolerate ErrClosed.
func (s *Store) Close() {
	close(s.shutdown)
}

func (s *Store) run() {
	kv := make(map[string]versioning.Versioned)
	tree := merkle.Build(nil)

	rebuildTree := func() {
		snapshot := make(map[string][]byte, len(kv))
		for k, v := range kv {
			snapshot[k] = v.Value
		}
		tree = merkle.Build(snapshot)
	}

	// applyPut recovers from any panic in user-supplied data so a single
	// bad write cannot kill the actor. On panic, the prior state is left
	// untouched and put_failed is reported (spec.md §4.4 failure
	// semantics). On success the Merkle tree is rebuilt before the reply
	// is sent, satisfying the post-ok invariant merkle = build(kv_map).
	applyPut := func(msg mailboxMsg) (result mailboxReply) {
		prev, hadPrev := kv[msg.key]
		defer func() {
			if r := recover(); r != nil {
				if hadPrev {
					kv[msg.key] = prev
				} else {
					delete(kv, msg.key)
				}
				result = mailboxReply{failed: true}
			}
		}()

		kv[msg.key] = versioning.Versioned{Value: msg.value, VC: msg.vc, Timestamp: msg.ts}
		rebuildTree()
		return mailboxReply{versioned: kv[msg.key], found: true}
	}

	for {
		select {
		case <-s.shutdown:
			return
		case msg := <-s.mailbox:
			switch msg.kind {
			case opGet:
				v, ok := kv[msg.key]
				msg.reply <- mailboxReply{versioned: v, found: ok}

			case opPut:
				msg.reply <- applyPut(msg)

			case opGetAll:
				snapshot := make(map[string]versioning.Versioned, len(kv))
				for k, v := range kv {
					snapshot[k] = v
				}
				msg.reply <- mailboxReply{all: snapshot}

			case opGetMerkle:
				msg.reply <- mailboxReply{tree: tree}
			}
		}
	}
}

func (s *Store) send(ctx context.Context, msg mailboxMsg) (mailboxReply, error) {
	select {
	case <-s.shutdown:
		return mailboxReply{}, ErrClosed
	default:
	}

	select {
	case s.mailbox <- msg:
	case <-s.shutdown:
		return mailboxReply{}, ErrClosed
	case <-ctx.Done():
		return mailboxReply{}, ctx.Err()
	}

	select {
	case r := <-msg.reply:
		return r, nil
	case <-s.shutdown:
		return mailboxReply{}, ErrClosed
	case <-ctx.Done():
		return mailboxReply{}, ctx.Err()
	}
}

// Get returns the stored version for key, or found=false if absent.
func (s *Store) Get(ctx context.Context, key string) (versioning.Versioned, bool, error) {
	r, err := s.send(ctx, mailboxMsg{kind: opGet, key: key, reply: make(chan mailboxReply, 1)})
	if err != nil {
		return versioning.Versioned{}, false, err
	}
	return r.versioned, r.found, nil
}

// Put writes key unconditionally, rebuilding the Merkle tree before
// returning. ok is false only when the write itself failed internally;
// reconciliation of concurrent versions is the Coordinator's job, not
// the Store's.
func (s *Store) Put(ctx context.Context, key string, value []byte, vc versioning.VectorClock, ts int64) (ok bool, err error) {
	r, err := s.send(ctx, mailboxMsg{
		kind: opPut, key: key, value: value, vc: vc, ts: ts,
		reply: make(chan mailboxReply, 1),
	})
	if err != nil {
		return false, err
	}
	return !r.failed, nil
}

// GetAll returns a snapshot of every stored key. Used by anti-entropy's
// full-sync fallback.
func (s *Store) GetAll(ctx context.Context) (map[string]versioning.Versioned, error) {
	r, err := s.send(ctx, mailboxMsg{kind: opGetAll, reply: make(chan mailboxReply, 1)})
	if err != nil {
		return nil, err
	}
	return r.all, nil
}

// GetMerkle returns the store's current Merkle tree.
func (s *Store) GetMerkle(ctx context.Context) (*merkle.Tree, error) {
	r, err := s.send(ctx, mailboxMsg{kind: opGetMerkle, reply: make(chan mailboxReply, 1)})
	if err != nil {
		return nil, err
	}
	return r.tree, nil
}
