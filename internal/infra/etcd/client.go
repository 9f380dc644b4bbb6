package etcd

import (
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultKeyPrefix is the root under which every key of the dispatcher lives.
const DefaultKeyPrefix = "/upkeep"

func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// Keys builds the etcd key layout under a prefix.
type Keys struct {
	Prefix string
}

func (k Keys) root() string {
	if k.Prefix == "" {
		return DefaultKeyPrefix
	}
	return k.Prefix
}

func (k Keys) Targets() string { return path.Join(k.root(), "targets") + "/" }
func (k Keys) State() string   { return path.Join(k.root(), "state") }
func (k Keys) Rounds() string  { return path.Join(k.root(), "rounds") + "/" }
func (k Keys) Locks() string   { return path.Join(k.root(), "locks") + "/" }
func (k Keys) Leader() string  { return path.Join(k.root(), "leader") }
