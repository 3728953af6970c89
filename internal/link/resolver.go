package link

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/log2"
)

const DefaultResolveTimeout = 10 * time.Second

type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver refreshes broker address periodically. Result is informational,
// client connects by name.
type Resolver struct {
	Log    *log2.Log
	Lookup LookupFunc

	stat     *stat.Stat
	host     string
	interval time.Duration
	last     atomic_clock.Clock

	mu   sync.Mutex
	addr string
	err  error
}

func NewResolver(log *log2.Log, brokerURL string, interval time.Duration, st *stat.Stat) (*Resolver, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, errors.Annotate(err, "broker url")
	}
	host := u.Hostname()
	if host == "" {
		return nil, errors.NotValidf("broker url=%s host", brokerURL)
	}
	return &Resolver{
		Log:      log,
		Lookup:   net.DefaultResolver.LookupHost,
		stat:     st,
		host:     host,
		interval: interval,
	}, nil
}

func (self *Resolver) Host() string { return self.host }

// Due is true before first resolve and after each interval.
func (self *Resolver) Due() bool {
	if self.last.IsZero() {
		return true
	}
	return self.interval > 0 && atomic_clock.Since(&self.last) >= self.interval
}

func (self *Resolver) Resolve(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultResolveTimeout)
	defer cancel()
	addrs, err := self.Lookup(ctx, self.host)
	self.last.SetNow()
	if err == nil && len(addrs) == 0 {
		err = errors.NotFoundf("broker host=%s address", self.host)
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	if err != nil {
		self.err = errors.Annotatef(err, "resolve host=%s", self.host)
		self.Log.Errorf("broker resolve host=%s ERROR err=%v", self.host, err)
		self.observe("error")
		return self.addr, self.err
	}
	self.addr, self.err = addrs[0], nil
	self.Log.Infof("broker resolve host=%s OK addr=%s", self.host, strings.Join(addrs, ","))
	self.observe("ok")
	return self.addr, nil
}

// Addr returns last successfully resolved address, empty before that.
func (self *Resolver) Addr() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.addr
}

func (self *Resolver) observe(result string) {
	if self.stat != nil {
		self.stat.Resolves.WithLabelValues(result).Inc()
	}
}
