package config

import (
	"errors"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

type Services struct {
	HTTP  HTTPConfig  `yaml:"http"`
	Store StoreConfig `yaml:"store"   validate:"required"`
	Cache CacheConfig `yaml:"cache"`
	Nats  NatsConfig  `yaml:"nats"`
	KVS   KVSConfig   `yaml:"kvstore"`
}

type HTTPConfig struct {
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	AdminToken string `yaml:"admin_token"`
}

type StoreConfig struct {
	Type     enum.StoreType `yaml:"type" validate:"oneof=postgres memory"`
	Postgres DatabaseConfig `yaml:"postgres"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type CacheConfig struct {
	Type  enum.CacheType `yaml:"type" validate:"oneof=redis memory"`
	Redis RedisConfig    `yaml:"redis"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	MTLS     bool   `yaml:"mtls"`
}

type NatsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TLS           NatsTLSConfig `yaml:"tls"`
}

type NatsTLSConfig struct {
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	CACert     string `yaml:"ca_cert"`
}

type KVSConfig struct {
	Type   enum.KVStoreType `yaml:"type" validate:"oneof=badger consul"`
	Consul ConsulConfig     `yaml:"consul"`
	Badger BadgerConfig     `yaml:"badger"`
}

type ConsulConfig struct {
	Scheme   string         `yaml:"scheme"`
	Address  string         `yaml:"address"`
	Folder   string         `yaml:"folder"`
	Token    string         `yaml:"token"`
	HttpAuth HttpAuthConfig `yaml:"http_auth"`
}

type HttpAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type BadgerConfig struct {
	// Directory empty runs badger in memory.
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
}

// validate checks cross-field requirements the struct tags cannot express.
func (s Services) validate() error {
	if s.Store.Type == enum.StoreTypePostgres && s.Store.Postgres.URL == "" {
		return errors.New("store.postgres.url is required for postgres store")
	}
	if s.Cache.Type == enum.CacheTypeRedis && s.Cache.Redis.URL == "" {
		return errors.New("cache.redis.url is required for redis cache")
	}
	if s.Nats.Enabled && s.Nats.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if s.KVS.Type == enum.KVStoreTypeConsul && s.KVS.Consul.Address == "" {
		return errors.New("kvstore.consul.address is required for consul kvstore")
	}
	return nil
}
