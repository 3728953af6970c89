package link

import (
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttMock stands in for paho client in tests of link users.
type MqttMock struct {
	Opt *mqtt.ClientOptions
	Pub chan MockMsg

	// Next token result for Connect/Publish.
	ConnectErr error
	PublishErr error

	connected    uint32
	disconnected uint32
	mu           sync.Mutex
	hold         bool // publish tokens stay incomplete
}

func NewMqttMock() *MqttMock {
	return &MqttMock{Pub: make(chan MockMsg, 32)}
}

func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.Opt = opt
	return self
}

func (self *MqttMock) SetConnected(v bool) {
	x := uint32(0)
	if v {
		x = 1
	}
	atomic.StoreUint32(&self.connected, x)
}

func (self *MqttMock) HoldTokens(v bool) {
	self.mu.Lock()
	self.hold = v
	self.mu.Unlock()
}

// Deliver simulates unsolicited message from broker.
func (self *MqttMock) Deliver(topic string, payload []byte) {
	self.Opt.DefaultPublishHandler(self, MockMsg{T: topic, P: payload})
}

func (self *MqttMock) Disconnect(uint) {
	atomic.StoreUint32(&self.disconnected, 1)
	self.SetConnected(false)
}
func (self *MqttMock) Disconnected() bool     { return atomic.LoadUint32(&self.disconnected) == 1 }
func (self *MqttMock) IsConnected() bool      { return atomic.LoadUint32(&self.connected) == 1 }
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	if self.ConnectErr == nil {
		self.SetConnected(true)
	}
	return &mockToken{err: self.ConnectErr, done: true}
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	var p []byte
	switch x := payload.(type) {
	case []byte:
		p = append([]byte(nil), x...)
	case string:
		p = []byte(x)
	}
	self.Pub <- MockMsg{T: topic, P: p}
	self.mu.Lock()
	done := !self.hold
	self.mu.Unlock()
	return &mockToken{err: self.PublishErr, done: done}
}

func (self *MqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token        { panic("not implemented") }
func (self *MqttMock) AddRoute(string, mqtt.MessageHandler)    { panic("not implemented") }
func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader { panic("not implemented") }

type mockToken struct {
	err  error
	done bool
}

func (tok *mockToken) Error() error { return tok.err }
func (tok *mockToken) Wait() bool   { return tok.done }

// paho WaitTimeout(0) races completion against expired timer, mock always loses it.
func (tok *mockToken) WaitTimeout(d time.Duration) bool { return tok.done && d > 0 }

type MockMsg struct {
	T string
	P []byte
}

func (msg MockMsg) Ack()              {}
func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return 0 }
func (msg MockMsg) Retained() bool    { return false }
func (msg MockMsg) Topic() string     { return msg.T }
