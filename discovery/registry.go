// Package discovery provides an in-memory discoverability registry for
// netcomms listeners.
//
// Listeners created with AllowDiscoverable advertise their bound endpoint
// here after a successful bind and withdraw it when they stop listening.
// Entries expire after the registry TTL unless they are refreshed.
package discovery

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcomms/connection"
	"github.com/opd-ai/netcomms/logging"
)

// ErrNotListening indicates a listener without a bound endpoint was advertised
var ErrNotListening = errors.New("listener is not listening")

// Record is one advertised listener endpoint.
type Record struct {
	Kind         connection.TransportKind
	Endpoint     string
	Protocol     connection.ApplicationLayerProtocol
	AdvertisedAt time.Time
}

// Registry tracks advertised listeners. It implements connection.Discoverer.
type Registry struct {
	cache *cache.Cache
	log   *logging.Logger

	mu   sync.Mutex
	keys map[*connection.Listener]string
}

var _ connection.Discoverer = (*Registry)(nil)

// NewRegistry creates a registry whose entries expire after ttl.
// A ttl of zero or less keeps entries until they are withdrawn.
func NewRegistry(ttl time.Duration, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.New("discovery")
	}

	var c *cache.Cache
	if ttl <= 0 {
		c = cache.New(cache.NoExpiration, 0)
	} else {
		c = cache.New(ttl, ttl/2)
	}

	r := &Registry{
		cache: c,
		log:   log,
		keys:  make(map[*connection.Listener]string),
	}
	c.OnEvicted(func(key string, _ interface{}) {
		r.log.WithFields(logrus.Fields{"key": key}).Debug("Discovery record removed")
	})
	return r
}

// Advertise records the listener's bound endpoint. Advertising again
// refreshes the entry's expiry.
func (r *Registry) Advertise(l *connection.Listener) error {
	ep := l.LocalListenEndpoint()
	if ep == nil {
		return ErrNotListening
	}

	rec := Record{
		Kind:         l.Kind(),
		Endpoint:     ep.String(),
		Protocol:     l.Protocol(),
		AdvertisedAt: time.Now(),
	}
	key := recordKey(rec.Kind, rec.Endpoint)

	r.mu.Lock()
	r.keys[l] = key
	r.mu.Unlock()

	r.cache.SetDefault(key, rec)
	r.log.WithFields(logrus.Fields{
		"kind":     rec.Kind.String(),
		"endpoint": rec.Endpoint,
	}).Debug("Advertised listener")
	return nil
}

// Withdraw removes the listener's record, if any.
func (r *Registry) Withdraw(l *connection.Listener) {
	r.mu.Lock()
	key, ok := r.keys[l]
	delete(r.keys, l)
	r.mu.Unlock()

	if ok {
		r.cache.Delete(key)
	}
}

// Lookup returns the live records of one transport kind, ordered by endpoint.
func (r *Registry) Lookup(kind connection.TransportKind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Records returns every live record ordered by kind and endpoint.
func (r *Registry) Records() []Record {
	items := r.cache.Items()
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if rec, ok := item.Object.(Record); ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

func recordKey(kind connection.TransportKind, endpoint string) string {
	return kind.String() + "/" + endpoint
}
