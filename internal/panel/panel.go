package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daemonp/risco2mqtt/internal/config"
	"github.com/daemonp/risco2mqtt/internal/devices"
	"github.com/daemonp/risco2mqtt/internal/log"
	"github.com/daemonp/risco2mqtt/internal/risco"
	"github.com/daemonp/risco2mqtt/internal/types"
)

// Transport is the part of *risco.Transport the panel drives.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Close()
	Events() <-chan risco.Event
	SendCommand(ctx context.Context, cmd string, prog bool) (string, error)
	ModifyPanelConfig(ctx context.Context, cmds []string) error
	InProg() bool
	SetProgMode(on bool)
	IsConnected() bool
	StartWatchdog(interval time.Duration)
	PanelID() int
	Password() string
}

type EventType int

const (
	// EventReady fires once a session is initialized and the collections
	// are populated.
	EventReady EventType = iota
	EventEdge
	EventDisconnected
)

type Event struct {
	Type EventType
	Edge devices.Edge
}

// Info describes the identified panel.
type Info struct {
	PanelID       int    `json:"panel_id"`
	Type          string `json:"type"`
	Model         string `json:"model"`
	Firmware      string `json:"firmware,omitempty"`
	MaxZones      int    `json:"max_zones"`
	MaxPartitions int    `json:"max_partitions"`
	MaxOutputs    int    `json:"max_outputs"`
}

const (
	eventQueueLen   = 256
	defaultProgPoll = 5 * time.Second
	defaultProgWait = 2 * time.Minute
)

type Panel struct {
	config    *config.Config
	log       *log.Logger
	transport Transport

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	reconnectDelay time.Duration
	progPoll       time.Duration
	progWait       time.Duration
	location       *time.Location

	mu         sync.RWMutex
	ctx        context.Context
	reconnect  *time.Timer
	info       Info
	system     *devices.System
	partitions *devices.List[*devices.Partition]
	zones      *devices.List[*devices.Zone]
	outputs    *devices.List[*devices.Output]
}

// NewPanel builds a panel on a risco transport configured from cfg.
func NewPanel(cfg *config.Config, logger *log.Logger) *Panel {
	mode := risco.ModeDirect
	if cfg.Risco.SocketMode == config.ModeProxy {
		mode = risco.ModeProxy
	}
	t := risco.New(risco.Options{
		Host:         cfg.Risco.Host,
		Port:         cfg.Risco.Port,
		Password:     cfg.Risco.Password,
		PanelID:      cfg.Risco.PanelID,
		DiscoverCode: cfg.Risco.DiscoverCode,
		Mode:         mode,
		ListenPort:   cfg.Risco.ListeningPort,
		CloudHost:    cfg.Risco.CloudHost,
		CloudPort:    cfg.Risco.CloudPort,
	}, logger)
	return NewWithTransport(cfg, logger, t)
}

func NewWithTransport(cfg *config.Config, logger *log.Logger, t Transport) *Panel {
	return &Panel{
		config:         cfg,
		log:            logger.With("panel"),
		transport:      t,
		events:         make(chan Event, eventQueueLen),
		done:           make(chan struct{}),
		reconnectDelay: cfg.Risco.Reconnect(),
		progPoll:       defaultProgPoll,
		progWait:       defaultProgWait,
		location:       time.Local,
		ctx:            context.Background(),
	}
}

// Events delivers session and entity events until Close.
func (p *Panel) Events() <-chan Event {
	return p.events
}

// Start listens for transport events and opens the first session. A failed
// first attempt is retried when auto_reconnect is set.
func (p *Panel) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	p.log.Debug("Starting event listener")
	go p.listenForEvents()

	if err := p.connect(); err != nil {
		if !p.config.Risco.AutoReconnect {
			return err
		}
		p.scheduleReconnect()
	}
	return nil
}

func (p *Panel) connect() error {
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()

	p.log.Info("Connecting to panel...")
	if err := p.transport.Connect(ctx); err != nil {
		p.log.Error("Failed to connect to panel: %v", err)
		return fmt.Errorf("failed to connect to panel: %w", err)
	}
	return nil
}

func (p *Panel) scheduleReconnect() {
	if !p.config.Risco.AutoReconnect || p.isClosed() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reconnect != nil {
		return
	}
	p.log.Info("Reconnecting in %s", p.reconnectDelay)
	p.reconnect = time.AfterFunc(p.reconnectDelay, func() {
		p.mu.Lock()
		p.reconnect = nil
		p.mu.Unlock()
		if p.isClosed() {
			return
		}
		if err := p.connect(); err != nil {
			p.scheduleReconnect()
		}
	})
}

func (p *Panel) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Panel) listenForEvents() {
	for {
		select {
		case <-p.done:
			return
		case event := <-p.transport.Events():
			p.handleEvent(event)
		}
	}
}

func (p *Panel) handleEvent(event risco.Event) {
	switch event.Type {
	case risco.EventConnected:
		p.log.Info("Connected to panel")
		go p.initSession()
	case risco.EventDisconnected:
		p.log.Warn("Panel connection lost")
		p.setNotReady()
		p.emit(Event{Type: EventDisconnected})
		p.scheduleReconnect()
	case risco.EventData:
		p.handlePush(event.Data)
	case risco.EventBadAccessCode:
		p.log.Error("Panel rejected the access code")
	case risco.EventAccessCodeFound:
		p.log.Warn("Access code discovered: %s, update the configuration", event.Data)
	case risco.EventBadCryptKey:
		p.log.Error("Panel id does not match the panel")
	case risco.EventCryptKeyFound:
		p.log.Warn("Panel id discovered: %s, update the configuration", event.Data)
	case risco.EventBadCRCLimit:
		p.log.Error("Too many CRC errors, connection reset")
	case risco.EventCloudConnected:
		p.log.Info("RiscoCloud connected")
	case risco.EventIncomingRemote:
		p.log.Info("Remote session started, keepalive suspended")
	case risco.EventEndIncomingRemote:
		p.log.Info("Remote session ended, keepalive resumed")
	default:
		p.log.Debug("Unhandled transport event %s", event.Type)
	}
}

func (p *Panel) emit(e Event) {
	select {
	case p.events <- e:
	case <-p.done:
	}
}

func (p *Panel) forward(e devices.Edge) {
	p.log.Event(string(e.Class), e.ID, e.Event)
	p.emit(Event{Type: EventEdge, Edge: e})
}

func (p *Panel) setNotReady() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.partitions != nil {
		p.partitions.SetReady(false)
	}
	if p.zones != nil {
		p.zones.SetReady(false)
	}
	if p.outputs != nil {
		p.outputs.SetReady(false)
	}
}

// ArmPartition arms partition id away or stay and reports success.
func (p *Panel) ArmPartition(ctx context.Context, id int, armType types.ArmType) bool {
	part, ok := p.partition(id)
	if !ok {
		return false
	}
	p.log.Debug("Arming partition %d (%s)", id, armType)
	done, err := part.Arm(ctx, armType)
	if err != nil {
		p.log.Error("Failed to arm partition %d: %v", id, err)
	}
	return done
}

// DisarmPartition disarms partition id and reports success.
func (p *Panel) DisarmPartition(ctx context.Context, id int) bool {
	part, ok := p.partition(id)
	if !ok {
		return false
	}
	p.log.Debug("Disarming partition %d", id)
	done, err := part.Disarm(ctx)
	if err != nil {
		p.log.Error("Failed to disarm partition %d: %v", id, err)
	}
	return done
}

// ToggleBypass flips the bypass of zone id and reports success.
func (p *Panel) ToggleBypass(ctx context.Context, id int) bool {
	zones := p.Zones()
	if zones == nil {
		p.log.Error("Zones not available")
		return false
	}
	z, ok := zones.ByID(id)
	if !ok {
		p.log.Error("Invalid zone id %d", id)
		return false
	}
	done, err := z.ToggleBypass(ctx)
	if err != nil {
		p.log.Error("Failed to toggle bypass of zone %d: %v", id, err)
	}
	return done
}

// ToggleOutput activates output id and reports success.
func (p *Panel) ToggleOutput(ctx context.Context, id int) bool {
	outputs := p.Outputs()
	if outputs == nil {
		p.log.Error("Outputs not available")
		return false
	}
	o, ok := outputs.ByID(id)
	if !ok {
		p.log.Error("Invalid output id %d", id)
		return false
	}
	done, err := o.Toggle(ctx)
	if err != nil {
		p.log.Error("Failed to toggle output %d: %v", id, err)
	}
	return done
}

func (p *Panel) partition(id int) (*devices.Partition, bool) {
	parts := p.Partitions()
	if parts == nil {
		p.log.Error("Partitions not available")
		return nil, false
	}
	part, ok := parts.ByID(id)
	if !ok {
		p.log.Error("Invalid partition id %d", id)
	}
	return part, ok
}

// Password returns the access code in use, which may have been discovered.
func (p *Panel) Password() string {
	return p.transport.Password()
}

func (p *Panel) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

func (p *Panel) System() *devices.System {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.system
}

func (p *Panel) Partitions() *devices.List[*devices.Partition] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.partitions
}

func (p *Panel) Zones() *devices.List[*devices.Zone] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.zones
}

func (p *Panel) Outputs() *devices.List[*devices.Output] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.outputs
}

// IsConnected reports whether a panel session is open.
func (p *Panel) IsConnected() bool {
	return p.transport.IsConnected()
}

// Close ends the session and stops reconnecting.
func (p *Panel) Close() {
	p.closeOnce.Do(func() {
		p.log.Info("Closing panel connection")
		close(p.done)
		p.mu.Lock()
		if p.reconnect != nil {
			p.reconnect.Stop()
			p.reconnect = nil
		}
		p.mu.Unlock()
		p.transport.Close()
	})
}
