// Package bridge relays session broadcasts between server nodes over Redis
// pub/sub, so participants of one session can be spread across several
// nodes. Each node attaches a relay connection to its live sessions; every
// frame the session fans out is published to the session's channel, and
// frames published by other nodes are re-fanned locally. The node id tag on
// each published envelope breaks the relay loop.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeduet/backend/internal/protocol"
	"github.com/codeduet/backend/internal/session"
)

const channelPrefix = "codeduet:session:"

type envelope struct {
	Node  string `json:"node"`
	Frame []byte `json:"frame"`
}

type outbound struct {
	sessionID string
	frame     []byte
}

type Bridge struct {
	rdb    *redis.Client
	store  *session.Store
	nodeID string
	connID string

	publish chan outbound
	cancel  context.CancelFunc
	done    chan struct{}
}

// New connects to Redis and starts the publish and subscribe loops.
func New(addr, password string, store *session.Store) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}

	nodeID := uuid.NewString()
	b := &Bridge{
		rdb:     rdb,
		store:   store,
		nodeID:  nodeID,
		connID:  "relay:" + nodeID,
		publish: make(chan outbound, 1024),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go b.publishLoop(ctx)
	go b.subscribeLoop(ctx)

	log.Printf("Bridge connected to Redis at %s (node %s)", addr, nodeID)
	return b, nil
}

// Attach registers the bridge as a relay connection on a session. Every
// broadcast the session performs reaches the relay unless the relay itself
// is the excluded origin.
func (b *Bridge) Attach(sess *session.Session) {
	sess.Attach(&relay{bridge: b, sessionID: sess.ID()})
}

func (b *Bridge) Close() {
	b.cancel()
	<-b.done
	b.rdb.Close()
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-b.publish:
			data, err := json.Marshal(envelope{Node: b.nodeID, Frame: out.frame})
			if err != nil {
				continue
			}
			if err := b.rdb.Publish(ctx, channelPrefix+out.sessionID, data).Err(); err != nil {
				log.Printf("Bridge: publish failed for session %s: %v", out.sessionID, err)
			}
		}
	}
}

func (b *Bridge) subscribeLoop(ctx context.Context) {
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRemote(msg)
		}
	}
}

func (b *Bridge) handleRemote(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		return
	}
	if env.Node == b.nodeID {
		return
	}

	sessionID := strings.TrimPrefix(msg.Channel, channelPrefix)
	sess, ok := b.store.Get(sessionID)
	if !ok {
		return
	}
	b.applyRemote(sess, env.Frame)
}

// applyRemote folds a relayed frame into the local session. Document and
// language updates mutate local authoritative state, so a participant joining
// on this node sees edits made on other nodes; everything else is fan-out
// only. The local relay is excluded throughout so the frame is not
// republished.
func (b *Bridge) applyRemote(sess *session.Session, frame []byte) {
	msg, err := protocol.DecodeServer(frame)
	if err != nil {
		log.Printf("Bridge: dropping undecodable relayed frame for session %s: %v", sess.ID(), err)
		return
	}

	switch m := msg.(type) {
	case protocol.DocumentUpdate:
		sess.SetDocument(m.Document, b.connID, frame)
	case protocol.LanguageUpdate:
		sess.SetLanguage(m.Language, b.connID, frame)
	default:
		sess.Broadcast(b.connID, frame)
	}
}

// relay is the per-session pseudo-connection the bridge registers. Its Send
// queues the frame for publishing and never blocks the session lock.
type relay struct {
	bridge    *Bridge
	sessionID string
}

func (r *relay) ConnectionID() string {
	return r.bridge.connID
}

func (r *relay) Send(frame []byte) bool {
	select {
	case r.bridge.publish <- outbound{sessionID: r.sessionID, frame: frame}:
		return true
	default:
		// Dropping a relay frame only degrades cross-node mirroring; local
		// participants already got it.
		return true
	}
}
