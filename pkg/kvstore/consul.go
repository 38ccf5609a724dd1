package kvstore

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/infra"
)

// ConsulClient implements infra.KVStore on top of the Consul KV API.
type ConsulClient struct {
	kv     *api.KV
	folder string
	codec  infra.Codec
}

type ConsulOptions struct {
	Scheme   string // "http" by default
	Address  string // "127.0.0.1:8500" by default
	Folder   string
	Codec    infra.Codec
	Token    string
	HttpAuth *api.HttpBasicAuth
}

func NewConsulClient(options ConsulOptions) (*ConsulClient, error) {
	if options.Scheme == "" {
		options.Scheme = "http"
	}
	if options.Address == "" {
		options.Address = "127.0.0.1:8500"
	}
	if options.Codec == nil {
		options.Codec = infra.JSON
	}

	cfg := api.DefaultConfig()
	cfg.Scheme = options.Scheme
	cfg.Address = options.Address
	cfg.WaitTime = 10 * time.Second
	cfg.Token = options.Token
	if options.HttpAuth != nil && options.HttpAuth.Username != "" {
		cfg.HttpAuth = options.HttpAuth
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if _, err := client.Status().Leader(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	return &ConsulClient{kv: client.KV(), folder: options.Folder, codec: options.Codec}, nil
}

func (c *ConsulClient) GetName() string {
	return string(enum.KVStoreTypeConsul)
}

func (c *ConsulClient) put(k string, data []byte) error {
	_, err := c.kv.Put(&api.KVPair{Key: joinKey(c.folder, k), Value: data}, nil)
	return err
}

func (c *ConsulClient) get(k string) (*api.KVPair, error) {
	pair, _, err := c.kv.Get(joinKey(c.folder, k), nil)
	return pair, err
}

func (c *ConsulClient) Set(k string, v string) error {
	if k == "" {
		return ErrKeyEmpty
	}
	return c.put(k, []byte(v))
}

func (c *ConsulClient) Get(k string) (string, error) {
	if k == "" {
		return "", ErrKeyEmpty
	}
	pair, err := c.get(k)
	if err != nil {
		return "", err
	}
	if pair == nil {
		return "", ErrKeyNotFound
	}
	return string(pair.Value), nil
}

func (c *ConsulClient) SetAny(k string, v any) error {
	if err := checkKeyAndValue(k, v); err != nil {
		return err
	}
	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.put(k, data)
}

// GetAny decodes the stored value into v. A missing key returns (false, nil).
func (c *ConsulClient) GetAny(k string, v any) (bool, error) {
	if err := checkKeyAndValue(k, v); err != nil {
		return false, err
	}
	pair, err := c.get(k)
	if err != nil {
		return false, err
	}
	if pair == nil {
		return false, nil
	}
	return true, c.codec.Unmarshal(pair.Value, v)
}

func (c *ConsulClient) List(prefix string) ([]*infra.KVPair, error) {
	if prefix == "" {
		return nil, ErrPrefixEmpty
	}

	pairs, _, err := c.kv.List(joinKey(c.folder, prefix), nil)
	if err != nil {
		return nil, err
	}

	result := make([]*infra.KVPair, len(pairs))
	for i, p := range pairs {
		result[i] = &infra.KVPair{Key: p.Key, Value: p.Value}
	}
	return result, nil
}

// Delete is a no-op for missing keys.
func (c *ConsulClient) Delete(k string) error {
	if k == "" {
		return ErrKeyEmpty
	}
	_, err := c.kv.Delete(joinKey(c.folder, k), nil)
	return err
}

func (c *ConsulClient) Close() error {
	return nil
}
