package lock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	DefaultZooKeeperRoot = "/ticket_reservation/locks"
	lockNodePrefix       = "lock-"
)

// ZooKeeperLocker serializes event mutations across engine instances with the
// ephemeral-sequential-node recipe: the lowest sequence number owns the lock,
// everyone else watches their predecessor.
type ZooKeeperLocker struct {
	conn *zk.Conn
	root string
}

// DialZooKeeper connects to the ensemble and waits for the session.
func DialZooKeeper(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, errors.New("zookeeper session not established")
		}
	}
}

func NewZooKeeperLocker(conn *zk.Conn, root string) (*ZooKeeperLocker, error) {
	if root == "" {
		root = DefaultZooKeeperRoot
	}
	if err := ensurePath(conn, root); err != nil {
		return nil, err
	}
	return &ZooKeeperLocker{conn: conn, root: root}, nil
}

func (l *ZooKeeperLocker) Lock(ctx context.Context, key string) (func(), error) {
	path := l.root + "/" + key
	if err := ensurePath(l.conn, path); err != nil {
		return nil, err
	}

	node, err := l.conn.CreateProtectedEphemeralSequential(path+"/"+lockNodePrefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, errors.Wrapf(err, "create lock node under %s", path)
	}
	// A failed delete is harmless: the node is ephemeral and goes with the session.
	unlock := func() { _ = l.conn.Delete(node, -1) }
	mine := strings.TrimPrefix(node, path+"/")

	for {
		children, _, err := l.conn.Children(path)
		if err != nil {
			unlock()
			return nil, errors.Wrapf(err, "list lock nodes under %s", path)
		}
		sortBySequence(children)

		idx := indexOf(children, mine)
		if idx < 0 {
			unlock()
			return nil, fmt.Errorf("lock node %s vanished", node)
		}
		if idx == 0 {
			return unlock, nil
		}

		exists, _, watch, err := l.conn.ExistsW(path + "/" + children[idx-1])
		if err != nil {
			unlock()
			return nil, errors.Wrap(err, "watch previous lock node")
		}
		if !exists {
			continue
		}

		select {
		case <-watch:
		case <-ctx.Done():
			unlock()
			return nil, ctx.Err()
		}
	}
}

// Close ends the ZooKeeper session, releasing any lock still held.
func (l *ZooKeeperLocker) Close() {
	l.conn.Close()
}

func ensurePath(conn *zk.Conn, path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		current += "/" + part
		_, err := conn.Create(current, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return errors.Wrapf(err, "create %s", current)
		}
	}
	return nil
}

// sortBySequence orders lock nodes by the sequence suffix ZooKeeper appends.
// Protected nodes carry a random prefix, so a plain string sort is wrong.
func sortBySequence(nodes []string) {
	sort.Slice(nodes, func(i, j int) bool {
		return sequenceOf(nodes[i]) < sequenceOf(nodes[j])
	})
}

func sequenceOf(node string) string {
	if i := strings.LastIndex(node, lockNodePrefix); i >= 0 {
		return node[i+len(lockNodePrefix):]
	}
	return node
}

func indexOf(nodes []string, name string) int {
	for i, n := range nodes {
		if n == name {
			return i
		}
	}
	return -1
}
