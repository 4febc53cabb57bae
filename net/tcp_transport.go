package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lcx/fastrpc/config"
	"github.com/lcx/fastrpc/log"
	"github.com/lcx/fastrpc/metrics"
	"github.com/lcx/fastrpc/serializer"
)

// TCPTransportCfg 配置.
type TCPTransportCfg struct {
	Tag             string `mapstructure:"tag"`
	Addr            string `mapstructure:"addr"`
	IdleTimeoutSec  uint32 `mapstructure:"idleTimeoutSec"`
	SendChannelSize uint32 `mapstructure:"sendChannelSize"`
	MaxBufferSize   int    `mapstructure:"maxBufferSize"`
}

// GetName returns the configuration name for TCPTransportCfg.
func (c *TCPTransportCfg) GetName() string {
	return "tcp_transport"
}

// Validate validates the TCPTransportCfg parameters.
func (c *TCPTransportCfg) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("Addr cannot be empty")
	}
	if c.MaxBufferSize <= 0 {
		return fmt.Errorf("MaxBufferSize must be positive")
	}
	if c.SendChannelSize == 0 {
		return fmt.Errorf("SendChannelSize must be positive")
	}
	return nil
}

// TCPTransport is the accepting side of the RPC runtime. Every accepted
// connection gets its own goroutine pair and a server-role Endpoint sharing
// the transport's API registry.
type TCPTransport struct {
	*TCPTransportCfg
	conns  map[net.Conn]*tcpctx
	lock   sync.RWMutex
	opt    TransportOption
	cancel context.CancelFunc
}

// NewTCPTransportWithConfig creates a TCPTransport with the provided
// configuration.
func NewTCPTransportWithConfig(cfg *TCPTransportCfg) *TCPTransport {
	return &TCPTransport{
		TCPTransportCfg: cfg,
		conns:           make(map[net.Conn]*tcpctx),
	}
}

// NewTCPTransportWithConfigManager creates a TCPTransport that loads its
// configuration from the config manager and follows hot reloads.
func NewTCPTransportWithConfigManager(configManager config.ConfigManager) (*TCPTransport, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := &TCPTransportCfg{}
	if err := configManager.LoadConfig("tcp_transport", cfg); err != nil {
		return nil, fmt.Errorf("failed to load tcp_transport config: %w", err)
	}

	transport := NewTCPTransportWithConfig(cfg)
	configManager.AddChangeListener(transport)
	return transport, nil
}

// OnConfigChanged implements the config.ConfigChangeListener interface.
// New settings apply to connections accepted afterwards.
func (t *TCPTransport) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "tcp_transport" {
		return nil
	}

	newCfg, ok := newConfig.(*TCPTransportCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for TCPTransport")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid TCP transport configuration: %w", err)
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.TCPTransportCfg = newCfg

	log.Info().Str("configName", configName).Msg("TCP transport configuration updated")
	return nil
}

// GetConfigName implements the config.ConfigChangeListener interface.
func (t *TCPTransport) GetConfigName() string {
	return "tcp_transport"
}

// Start Transport interface.
func (t *TCPTransport) Start(opt TransportOption) error {
	metrics.IncrCounterWithGroup("net", "transport_start_total", 1)

	if t.TCPTransportCfg == nil {
		return errors.New("TCPTransportCfg is nil")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	t.opt = opt
	if t.opt.Registry == nil {
		t.opt.Registry = NewApiRegistry()
	}
	if t.opt.Serializer == nil {
		t.opt.Serializer = serializer.Default()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", t.Addr)
	if err != nil {
		return errors.New("resolve: " + err.Error())
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errors.New("listen fail: " + err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.serve(ctx, listener)
	return nil
}

// Stop Transport interface.
func (t *TCPTransport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.lock.Lock()
	conns := make([]*tcpctx, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.lock.Unlock()

	for _, c := range conns {
		c.close()
	}
	return nil
}

// StopRecv 停止收包.
func (t *TCPTransport) StopRecv() error {
	return errors.New("tcp transport not support stop recv")
}

func (t *TCPTransport) serve(ctx context.Context, listener *net.TCPListener) {
	var once sync.Once
	closeListener := func() {
		if err := listener.Close(); err != nil {
			log.Warn().Err(err).Msg("listener close err")
		}
	}
	defer once.Do(closeListener)

	go func() {
		<-ctx.Done()
		once.Do(closeListener)
	}()

	for {
		conn, err := listener.AcceptTCP()
		if err != nil {
			var e net.Error
			if errors.As(err, &e) && e.Timeout() {
				continue
			}
			return
		}

		if err = conn.SetReadBuffer(t.MaxBufferSize); err != nil {
			log.Error().Int("BufSize", t.MaxBufferSize).Err(err).Msg("Set read buffer err")
			_ = conn.Close()
			continue
		}
		if err = conn.SetWriteBuffer(t.MaxBufferSize); err != nil {
			log.Error().Int("BufSize", t.MaxBufferSize).Err(err).Msg("Set write buffer err")
			_ = conn.Close()
			continue
		}

		tctx := t.newConn(ctx, conn, false)
		t.addConn(conn, tctx)
		metrics.IncrCounterWithGroup("net", "connection_accept_total", 1)
		metrics.UpdateGaugeWithGroup("net", "current_connections", metrics.Value(t.connCount()))

		tctx.serve()
	}
}

func (t *TCPTransport) newConn(ctx context.Context, conn net.Conn, isClient bool) *tcpctx {
	cancelCtx, cancel := context.WithCancel(ctx)
	tctx := &tcpctx{
		ctx:         ctx,
		cancelCtx:   cancelCtx,
		cancel:      cancel,
		conn:        conn,
		localAddr:   conn.LocalAddr(),
		remoteAddr:  conn.RemoteAddr(),
		sendCh:      make(chan []byte, t.SendChannelSize),
		idleTimeout: time.Duration(t.IdleTimeoutSec) * time.Second,
		readChunk:   t.MaxBufferSize,
		handler:     t.opt.Handler,
		onClose:     func(c *tcpctx) { t.removeConn(c.conn) },
	}
	tctx.endpoint = NewEndpoint(t.opt.EndpointCfg, t.opt.Registry, t.opt.Serializer, isClient, tctx.sendBytes)
	return tctx
}

func (t *TCPTransport) removeConn(conn net.Conn) {
	t.lock.Lock()
	delete(t.conns, conn)
	count := len(t.conns)
	t.lock.Unlock()

	metrics.IncrCounterWithGroup("net", "connection_close_total", 1)
	metrics.UpdateGaugeWithGroup("net", "current_connections", metrics.Value(count))
}

func (t *TCPTransport) addConn(conn net.Conn, tctx *tcpctx) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.conns[conn] = tctx
}

func (t *TCPTransport) connCount() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.conns)
}

// tcpctx serves one connection: a serveRecv goroutine feeds the endpoint's
// receive path, a serveSend goroutine drains the send channel so concurrent
// senders never interleave frames on the wire.
type tcpctx struct {
	ctx           context.Context
	cancelCtx     context.Context
	cancel        context.CancelFunc
	conn          net.Conn
	localAddr     net.Addr
	remoteAddr    net.Addr
	lastReadTime  time.Time
	lastWriteTime time.Time
	closeOnce     sync.Once
	sendCh        chan []byte
	idleTimeout   time.Duration
	readChunk     int
	endpoint      *Endpoint
	handler       SessionHandler
	onClose       func(*tcpctx)
}

func (t *tcpctx) close() {
	t.closeOnce.Do(func() {
		if t.onClose != nil {
			t.onClose(t)
		}

		// notify serve goroutines to exit
		t.cancel()
		_ = t.conn.Close()

		t.endpoint.OnDisconnect()
		if t.handler != nil {
			t.handler.OnSessionEnd(t.endpoint)
		}
	})
}

func (t *tcpctx) serve() {
	if t.handler != nil {
		t.handler.OnSessionStart(t.endpoint)
	}
	go t.serveSend()
	go t.serveRecv()
}

func (t *tcpctx) serveRecv() {
	defer t.close()

	chunk := t.readChunk
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	buf := make([]byte, chunk)

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.cancelCtx.Done():
			return
		default:
		}

		t.setReadDeadline()
		n, err := t.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		if err := t.endpoint.OnReceive(buf[:n]); err != nil {
			// ProtocolError is fatal to the connection
			log.Error().Str("remote", t.remoteAddr.String()).Err(err).
				Msg("receive path failed, closing connection")
			return
		}
	}
}

func (t *tcpctx) serveSend() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.cancelCtx.Done():
			return
		case data := <-t.sendCh:
			t.setWriteDeadline()
			if _, err := t.conn.Write(data); err != nil {
				log.Warn().Str("remote", t.remoteAddr.String()).Err(err).Msg("send fail")
				t.close()
				return
			}
		}
	}
}

// sendBytes queues one encoded frame. Never blocks the caller; a saturated
// channel reports ErrSendChannelFull.
func (t *tcpctx) sendBytes(data []byte) error {
	select {
	case t.sendCh <- data:
		return nil
	case <-t.cancelCtx.Done():
		return ErrShutdown
	default:
		return ErrSendChannelFull
	}
}

func (t *tcpctx) setReadDeadline() {
	// timeout control, refresh at most every 5s
	if t.idleTimeout > 0 {
		n := time.Now()
		if n.Sub(t.lastReadTime) > 5*time.Second {
			t.lastReadTime = n
			_ = t.conn.SetReadDeadline(n.Add(t.idleTimeout))
		}
	}
}

func (t *tcpctx) setWriteDeadline() {
	if t.idleTimeout > 0 {
		n := time.Now()
		if n.Sub(t.lastWriteTime) > 5*time.Second {
			t.lastWriteTime = n
			_ = t.conn.SetWriteDeadline(n.Add(t.idleTimeout))
		}
	}
}

// Dial connects to a fastrpc peer and returns the client-role endpoint for
// the connection. The registry carries the APIs this side serves to the peer;
// nil is valid for a pure caller.
func Dial(addr string, cfg *EndpointConfig, registry *ApiRegistry,
	ser serializer.Serializer, handler SessionHandler) (*Endpoint, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.New("dial fail: " + err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	tctx := &tcpctx{
		ctx:        ctx,
		cancelCtx:  ctx,
		cancel:     cancel,
		conn:       conn,
		localAddr:  conn.LocalAddr(),
		remoteAddr: conn.RemoteAddr(),
		sendCh:     make(chan []byte, 256),
		readChunk:  64 * 1024,
		handler:    handler,
	}
	tctx.endpoint = NewEndpoint(cfg, registry, ser, true, tctx.sendBytes)

	metrics.IncrCounterWithGroup("net", "connection_dial_total", 1)
	tctx.serve()
	return tctx.endpoint, nil
}
