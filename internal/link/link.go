// Package link owns the single broker connection shared by sampling and publishing sides.
// Every operation waits for the link lock at most LockTimeout, then gives up.
package link

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/log2"
	"golang.org/x/sync/semaphore"
)

const (
	OpConnect  = "connect"
	OpPublish  = "publish"
	OpMaintain = "maintain"

	defaultKeepalive = 15 * time.Second
	inboundDepth     = 8
	// positive, zero wait may report finished token as pending
	reapWait         = time.Millisecond
)

type Topics struct {
	ClientID string
	Log      string
	Power    string
}

func MakeTopics(config *state.BrokerConfig, mac string) Topics {
	return Topics{
		ClientID: fmt.Sprintf("%s_%s", config.ClientPrefix, mac),
		Log:      fmt.Sprintf("%s/%s/%s", config.BaseTopic, mac, config.LogTopic),
		Power:    fmt.Sprintf("%s/%s/%s", config.BaseTopic, mac, config.PowerTopic),
	}
}

type NewClientFunc func(*mqtt.ClientOptions) mqtt.Client

type Link struct {
	Log *log2.Log
	// OnMessage receives inbound messages during Maintain. Nothing is subscribed,
	// broker may still deliver, default ignores them.
	OnMessage func(topic string, payload []byte)

	stat           *stat.Stat
	m              mqtt.Client
	lock           *semaphore.Weighted
	lockTimeout    time.Duration
	connectTimeout time.Duration
	topics         Topics
	inbound        chan mqtt.Message
	pending        []pendingPublish // under lock
}

type pendingPublish struct {
	topic string
	t     mqtt.Token
}

func New(log *log2.Log, config *state.BrokerConfig, topics Topics, st *stat.Stat, newClient NewClientFunc) (*Link, error) {
	self := &Link{
		Log:            log,
		OnMessage:      func(string, []byte) {},
		stat:           st,
		lock:           semaphore.NewWeighted(1),
		lockTimeout:    config.LockTimeout(),
		connectTimeout: config.ConnectTimeout(),
		topics:         topics,
		inbound:        make(chan mqtt.Message, inboundDepth),
		pending:        make([]pendingPublish, 0, 8),
	}

	tlsconf, err := tlsConfig(config.TlsCaFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(config.URL).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetClientID(topics.ClientID).
		SetConnectTimeout(self.connectTimeout).
		SetConnectionLostHandler(self.onConnectionLost).
		SetDefaultPublishHandler(self.onMessage).
		SetKeepAlive(defaultKeepalive).
		SetOrderMatters(false).
		SetPingTimeout(self.connectTimeout).
		SetWriteTimeout(self.connectTimeout)
	if tlsconf != nil {
		mopt.SetTLSConfig(tlsconf)
	}
	if config.Username != "" {
		mopt.SetUsername(config.Username)
		mopt.SetPassword(config.Password)
	}
	self.m = newClient(mopt)
	return self, nil
}

// SetClientLog routes paho package-level loggers, process-wide. Call once before New.
func SetClientLog(log *log2.Log, debug bool) {
	mqttLog := log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if debug {
		mqtt.DEBUG = mqttLog
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}
	cabytes, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, errors.Annotate(err, "broker tls_ca_file")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("broker tls_ca_file=%s no certificates", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}

func (self *Link) Topics() Topics { return self.topics }

// Connected does not take the lock, client state is safe to read concurrently.
func (self *Link) Connected() bool { return self.m.IsConnected() }

// Connect is done once at startup. There is no reconnect, lost connection means restart.
func (self *Link) Connect() error {
	err := self.withLock(OpConnect, func() error {
		return self.tokenWait(self.m.Connect(), self.connectTimeout, "connect")
	})
	return errors.Annotatef(err, "broker connect client=%s", self.topics.ClientID)
}

func (self *Link) PublishPower(payload []byte) error { return self.Publish(self.topics.Power, payload) }
func (self *Link) PublishLog(payload []byte) error   { return self.Publish(self.topics.Log, payload) }

// Publish hands message to client, QoS 0. Result is checked later in Maintain.
func (self *Link) Publish(topic string, payload []byte) error {
	return self.withLock(OpPublish, func() error {
		t := self.m.Publish(topic, 0, false, payload)
		self.pending = append(self.pending, pendingPublish{topic: topic, t: t})
		if self.stat != nil {
			self.stat.Published.WithLabelValues(self.topicKind(topic)).Inc()
		}
		self.Log.Debugf("link publish topic=%s payload=%s", topic, payload)
		return nil
	})
}

// Maintain delivers buffered inbound messages and reaps completed publish tokens.
func (self *Link) Maintain() error {
	return self.withLock(OpMaintain, func() error {
	loop:
		for {
			select {
			case msg := <-self.inbound:
				self.OnMessage(msg.Topic(), msg.Payload())
			default:
				break loop
			}
		}

		kept := self.pending[:0]
		for _, p := range self.pending {
			if !p.t.WaitTimeout(reapWait) {
				kept = append(kept, p)
				continue
			}
			if err := p.t.Error(); err != nil {
				self.Log.Errorf("link publish topic=%s err=%v", p.topic, err)
				if self.stat != nil {
					self.stat.PublishErrors.Inc()
				}
			}
		}
		for i := len(kept); i < len(self.pending); i++ {
			self.pending[i] = pendingPublish{}
		}
		self.pending = kept
		return nil
	})
}

func (self *Link) Pending() int {
	n := 0
	_ = self.withLock("pending", func() error { n = len(self.pending); return nil })
	return n
}

func (self *Link) Disconnect() {
	self.m.Disconnect(uint(self.lockTimeout / time.Millisecond))
}

// withLock runs f only if lock was acquired within lockTimeout.
func (self *Link) withLock(op string, f func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), self.lockTimeout)
	defer cancel()
	if err := self.lock.Acquire(ctx, 1); err != nil {
		if self.stat != nil {
			self.stat.LockTimeouts.WithLabelValues(op).Inc()
		}
		return errors.Timeoutf("link lock op=%s", op)
	}
	defer self.lock.Release(1)
	return f()
}

func (self *Link) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case self.inbound <- msg:
	default:
		self.Log.Debugf("link inbound full, drop topic=%s", msg.Topic())
	}
}

func (self *Link) onConnectionLost(_ mqtt.Client, err error) {
	self.Log.Errorf("link connection lost err=%v", err)
}

func (self *Link) tokenWait(t mqtt.Token, timeout time.Duration, tag string) error {
	if !t.WaitTimeout(timeout) {
		return errors.Timeoutf(tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotate(err, tag)
	}
	return nil
}

func (self *Link) topicKind(topic string) string {
	switch topic {
	case self.topics.Power:
		return "power"
	case self.topics.Log:
		return "log"
	}
	return "other"
}
