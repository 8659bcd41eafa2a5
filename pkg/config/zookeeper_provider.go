// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider is a koanf provider that reads raw YAML bytes from
// a ZooKeeper node and supports watching it for changes.
type ZookeeperProvider struct {
	conn      *zk.Conn
	path      string
	endpoints []string
}

func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}

	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{
		conn:      conn,
		path:      path,
		endpoints: endpoints,
	}, nil
}

func (p *ZookeeperProvider) ReadBytes() ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read from zookeeper path %s: %w", p.path, err)
	}

	return data, nil
}

// Read satisfies koanf.Provider. The node holds raw YAML, so callers
// must go through ReadBytes with a parser.
func (p *ZookeeperProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("zookeeper provider does not support this method")
}

// Watch re-arms a GetW watch in a loop, invoking the callback on data
// changes. It returns when the node is deleted or the watch is lost.
func (p *ZookeeperProvider) Watch(callback func(event interface{}, err error)) error {
	for {
		data, _, eventCh, err := p.conn.GetW(p.path)
		if err != nil {
			callback(nil, fmt.Errorf("failed to watch zookeeper path %s: %w", p.path, err))
			// back off before re-arming, the connection may be down
			time.Sleep(time.Second)
			continue
		}

		event := <-eventCh

		switch event.Type {
		case zk.EventNodeDataChanged:
			callback(data, nil)
		case zk.EventNodeDeleted:
			callback(nil, fmt.Errorf("zookeeper node %s was deleted", p.path))
			return nil
		case zk.EventNotWatching:
			callback(nil, fmt.Errorf("zookeeper watch lost for path %s", p.path))
			return nil
		}
	}
}

func (p *ZookeeperProvider) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
