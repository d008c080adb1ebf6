// Package gatt implements the BLE transport on top of go-ble. Opening the
// channel is itself a multi-step negotiation (radio, scan/dial, service
// discovery, characteristic lookup, notification subscribe); each stage has
// its own timeout and failures name the stage that died.
package gatt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/transport"
)

// Default GATT profile of the sensor unit: a UART-style service with one
// notify characteristic (device to host) and one write characteristic
// (host to device).
var (
	DefaultServiceUUID = ble.MustParse("49535343-FE7D-4AE5-8FA9-9FAFD205E455")
	DefaultTxCharUUID  = ble.MustParse("49535343-1E4D-4BD9-BA61-23C647249616")
	DefaultRxCharUUID  = ble.MustParse("49535343-8841-43F4-A8D4-ECBE34729BB3")
)

// Options configures the BLE transport.
type Options struct {
	// Address selects a device directly. When empty, the transport scans
	// for the first advertiser of ServiceUUID.
	Address string

	ServiceUUID ble.UUID
	TxCharUUID  ble.UUID
	RxCharUUID  ble.UUID

	ScanTimeout     time.Duration
	DialTimeout     time.Duration
	DiscoverTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if len(o.ServiceUUID) == 0 {
		o.ServiceUUID = DefaultServiceUUID
	}
	if len(o.TxCharUUID) == 0 {
		o.TxCharUUID = DefaultTxCharUUID
	}
	if len(o.RxCharUUID) == 0 {
		o.RxCharUUID = DefaultRxCharUUID
	}
	if o.ScanTimeout == 0 {
		o.ScanTimeout = 10 * time.Second
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.DiscoverTimeout == 0 {
		o.DiscoverTimeout = 5 * time.Second
	}
}

// Transport is a BLE GATT channel. Notifications are enqueued by the
// subscription handler and consumed by Receive; writes go to the RX
// characteristic under a write mutex.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	client  ble.Client
	rxChar  *ble.Characteristic
	txChar  *ble.Characteristic
	notifs  *notifyQueue
	open    bool
	writeMu sync.Mutex
}

// notifyQueue buffers notifications between the radio's callback goroutine
// and Receive. Pushes and close are serialized by one mutex, so a late
// notification delivered while Close runs is dropped instead of hitting a
// closed channel. push never blocks; when the queue is full the oldest
// entry is dropped so fresh samples keep flowing.
type notifyQueue struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newNotifyQueue(size int) *notifyQueue {
	return &notifyQueue{ch: make(chan []byte, size)}
}

func (q *notifyQueue) push(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- p:
	default:
		select {
		case <-q.ch:
		default:
		}
		select {
		case q.ch <- p:
		default:
		}
	}
}

func (q *notifyQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func New(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	opts.fillDefaults()
	return &Transport{opts: opts, logger: logger}
}

func (t *Transport) Kind() transport.Kind { return transport.KindBLE }

func (t *Transport) Profile() transport.Profile {
	// GATT writes are confirmed at the ATT layer; the device protocol does
	// not layer its own acks on top.
	return transport.Profile{Framing: transport.FramingStream, AckBased: false}
}

func (t *Transport) openErr(stage string, err error) error {
	return &transport.OpenError{Kind: t.Kind(), Stage: stage, Err: err}
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return t.openErr("radio", err)
	}
	ble.SetDefaultDevice(dev)

	client, err := t.connectClient(ctx)
	if err != nil {
		return err
	}

	discCtx, cancel := context.WithTimeout(ctx, t.opts.DiscoverTimeout)
	defer cancel()
	profile, err := discoverProfile(discCtx, client)
	if err != nil {
		client.CancelConnection()
		return t.openErr("service discovery", err)
	}

	tx, rx, err := t.findCharacteristics(profile)
	if err != nil {
		client.CancelConnection()
		return t.openErr("characteristics", err)
	}

	notifs := newNotifyQueue(128)
	err = client.Subscribe(tx, false, func(data []byte) {
		cp := make([]byte, len(data))
		copy(cp, data)
		notifs.push(cp)
	})
	if err != nil {
		client.CancelConnection()
		return t.openErr("subscribe", err)
	}

	t.client = client
	t.txChar = tx
	t.rxChar = rx
	t.notifs = notifs
	t.open = true
	t.logger.WithFields(logrus.Fields{
		"service": t.opts.ServiceUUID.String(),
		"address": client.Addr().String(),
	}).Info("BLE transport ready")
	return nil
}

// connectClient runs the scan-or-dial stage. Caller holds t.mu.
func (t *Transport) connectClient(ctx context.Context) (ble.Client, error) {
	if t.opts.Address != "" {
		dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()
		client, err := ble.Dial(dialCtx, ble.NewAddr(t.opts.Address))
		if err != nil {
			return nil, t.openErr("dial", err)
		}
		return client, nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, t.opts.ScanTimeout)
	defer cancel()
	filter := func(a ble.Advertisement) bool {
		for _, svc := range a.Services() {
			if svc.Equal(t.opts.ServiceUUID) {
				return true
			}
		}
		return false
	}
	client, err := ble.Connect(scanCtx, filter)
	if err != nil {
		if scanCtx.Err() != nil {
			err = fmt.Errorf("no device advertising %s: %w", t.opts.ServiceUUID, err)
		}
		return nil, t.openErr("scan", err)
	}
	return client, nil
}

// discoverProfile wraps the blocking DiscoverProfile call with the stage
// timeout; go-ble does not take a context here.
func discoverProfile(ctx context.Context, client ble.Client) (*ble.Profile, error) {
	type result struct {
		profile *ble.Profile
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := client.DiscoverProfile(true)
		ch <- result{p, err}
	}()
	select {
	case r := <-ch:
		return r.profile, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("service discovery timeout")
	}
}

func (t *Transport) findCharacteristics(profile *ble.Profile) (tx, rx *ble.Characteristic, err error) {
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(t.opts.ServiceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			switch {
			case c.UUID.Equal(t.opts.TxCharUUID):
				tx = c
			case c.UUID.Equal(t.opts.RxCharUUID):
				rx = c
			}
		}
	}
	var missing []string
	if tx == nil {
		missing = append(missing, t.opts.TxCharUUID.String())
	}
	if rx == nil {
		missing = append(missing, t.opts.RxCharUUID.String())
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("characteristics not found: %s", strings.Join(missing, ", "))
	}
	return tx, rx, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	client := t.client
	t.client = nil
	if t.txChar != nil {
		// Best effort: the connection is going away anyway.
		_ = client.Unsubscribe(t.txChar, false)
	}
	t.notifs.close()
	return client.CancelConnection()
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Send(p []byte) error {
	t.mu.Lock()
	client := t.client
	rx := t.rxChar
	open := t.open
	t.mu.Unlock()
	if !open {
		return transport.ErrNotOpen
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := client.WriteCharacteristic(rx, p, false); err != nil {
		return fmt.Errorf("gatt write: %w", err)
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	client := t.client
	notifs := t.notifs
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil, transport.ErrClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-client.Disconnected():
		return nil, transport.ErrStreamEnd
	case p, ok := <-notifs.ch:
		if !ok {
			return nil, transport.ErrClosed
		}
		return p, nil
	}
}

// Drain discards queued notifications without blocking.
func (t *Transport) Drain() error {
	t.mu.Lock()
	notifs := t.notifs
	open := t.open
	t.mu.Unlock()
	if !open {
		return transport.ErrNotOpen
	}
	for {
		select {
		case _, ok := <-notifs.ch:
			if !ok {
				return transport.ErrClosed
			}
		default:
			return nil
		}
	}
}
