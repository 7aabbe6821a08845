// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot   = "/distributed_locks" // 所有分布式锁的根节点
	nodePrefix = "lock-"
)

// ErrLockTimeout 在等待期内没有拿到锁
var ErrLockTimeout = errors.New("zookeeper: timeout waiting for lock")

// DistributedLock 基于临时顺序节点的公平锁
type DistributedLock struct {
	conn     *Conn
	path     string // 例如 /distributed_locks/cart-reclaimer
	lockNode string // 持有锁时自己创建的节点
}

// NewDistributedLock 创建一个锁实例，会确保锁路径存在
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	path := lockRoot + "/" + resourceID
	if err := conn.ensurePath(path); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: path}, nil
}

// Lock 阻塞直到获取锁或 ctx 结束
// ctx 结束时会删除自己创建的节点并返回 ErrLockTimeout
func (l *DistributedLock) Lock(ctx context.Context) error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/"+nodePrefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "zookeeper: create sequential node")
	}
	l.lockNode = nodePath
	myName := strings.TrimPrefix(nodePath, l.path+"/")

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "zookeeper: list children")
		}
		// protected 节点带有 _c_<guid>- 前缀，按序号部分排序
		sort.Slice(children, func(i, j int) bool { return sequenceOf(children[i]) < sequenceOf(children[j]) })

		idx := indexOf(children, myName)
		switch {
		case idx < 0:
			l.abandon()
			return errors.New("zookeeper: own lock node disappeared")
		case idx == 0:
			return nil
		}

		exists, _, events, err := l.conn.ExistsW(l.path + "/" + children[idx-1])
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "zookeeper: watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-events:
		case <-ctx.Done():
			l.abandon()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("zookeeper: no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "zookeeper: delete lock node")
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

func sequenceOf(node string) string {
	if i := strings.LastIndex(node, nodePrefix); i >= 0 {
		return node[i+len(nodePrefix):]
	}
	return node
}

func indexOf(children []string, name string) int {
	for i, c := range children {
		if c == name {
			return i
		}
	}
	return -1
}
