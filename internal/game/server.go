package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bunger-shield/internal/config"
	"bunger-shield/internal/game/spatial"
	"bunger-shield/internal/store"
)

var (
	// ErrNotRunning is returned when work is submitted to a stopped loop.
	ErrNotRunning = errors.New("server loop not running")
	// ErrPlayerNotFound is returned for unknown or offline players.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrEntityLimit is returned when the entity cap is reached.
	ErrEntityLimit = errors.New("entity limit reached")
)

const (
	inboxSize    = 256
	storeTimeout = 5 * time.Second

	// Velocity components below this snap to zero after drag.
	minVelocity = 0.003
)

// Options configures a Server. Zero values fall back to defaults.
type Options struct {
	Server      config.ServerConfig
	Spatial     config.SpatialConfig
	Store       store.Store
	Permissions *PermissionManager
	Logger      *zap.Logger

	// OnTick is called on the loop after every tick (metrics).
	OnTick func(d time.Duration, players, entities int)
}

// Server is the host game server. It owns every entity and runs all game
// logic (plugins, listeners, commands, tasks) on a single loop goroutine.
//
// Methods documented as loop-only must be called from the loop (inside a
// task, listener, command or Call) or before Start.
type Server struct {
	cfg         config.ServerConfig
	logger      *zap.Logger
	store       store.Store
	permissions *PermissionManager
	scheduler   *Scheduler
	commands    *CommandMap
	listeners   listenerRegistry
	plugins     []Plugin
	console     *ConsoleSender
	onTick      func(d time.Duration, players, entities int)

	entities map[uuid.UUID]*Entity
	players  map[uuid.UUID]*Player

	// Spatial index, rebuilt lazily when something moved
	grid         *spatial.SpatialGrid
	gridEntities []*Entity
	gridDirty    bool

	snapshot    atomic.Pointer[WorldSnapshot]
	snapshotSeq uint64

	// Loop lifecycle
	mu       sync.Mutex
	running  bool
	stopped  bool
	inbox    chan func()
	stopChan chan struct{}
	done     chan struct{}
}

// NewServer creates a stopped server.
func NewServer(opts Options) *Server {
	cfg := opts.Server
	if cfg.TickRate <= 0 {
		cfg = config.DefaultServer()
	}
	sp := opts.Spatial
	if sp.GridCellSize <= 0 {
		sp = config.DefaultSpatial()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	perms := opts.Permissions
	if perms == nil {
		perms = NewPermissionManager(PermissionFile{})
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		permissions: perms,
		scheduler:   NewScheduler(),
		commands:    NewCommandMap(),
		console:     NewConsoleSender(logger.Named("console")),
		onTick:      opts.OnTick,
		entities:    make(map[uuid.UUID]*Entity),
		players:     make(map[uuid.UUID]*Player),
		grid:        spatial.NewSpatialGrid(sp.MinX, sp.MinZ, sp.Width, sp.Depth, sp.GridCellSize, sp.ExpectedCount),
		inbox:       make(chan func(), inboxSize),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.registerBuiltins()
	s.publishSnapshot()
	return s
}

// Start begins the server loop. Calling Start twice, or after Stop, is a no-op.
func (s *Server) Start() {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()

	s.logger.Info("server loop started", zap.Int("tps", s.cfg.TickRate))
}

// Stop stops the loop, disables plugins and saves every online player.
// Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.running
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	if wasRunning {
		<-s.done
	}

	// The loop is gone; this goroutine now owns the world.
	for i := len(s.plugins) - 1; i >= 0; i-- {
		s.DisablePlugin(s.plugins[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.SaveAll(ctx); err != nil {
		s.logger.Error("saving player data on shutdown", zap.Error(err))
	}

	s.logger.Info("server loop stopped", zap.Int64("ticks", s.scheduler.CurrentTick()))
}

// Running reports whether the loop accepts work.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) run() {
	defer close(s.done)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safely("tick", s.Tick)
		case fn := <-s.inbox:
			s.safely("task", fn)
		case <-s.stopChan:
			return
		}
	}
}

// safely runs fn, turning a panic into an error log so one bad plugin call
// does not take the loop down.
func (s *Server) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic on server loop",
				zap.String("in", what), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Submit queues fn to run on the loop. It blocks while the inbox is full.
func (s *Server) Submit(fn func()) error {
	return s.submit(context.Background(), fn)
}

func (s *Server) submit(ctx context.Context, fn func()) error {
	if !s.Running() {
		return ErrNotRunning
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.stopChan:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop and waits for its result.
func (s *Server) Call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if err := s.submit(ctx, func() { errc <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrNotRunning
		}
	}
}

// Tick advances the world by one tick: physics, scheduled tasks, autosave,
// snapshot. Loop-only.
func (s *Server) Tick() {
	start := time.Now()

	s.integrate()
	s.scheduler.Tick()

	if s.cfg.AutosaveTicks > 0 && s.scheduler.CurrentTick()%s.cfg.AutosaveTicks == 0 {
		s.autosave()
	}

	s.publishSnapshot()

	if s.onTick != nil {
		s.onTick(time.Since(start), len(s.players), len(s.entities))
	}
}

// integrate moves every entity by its velocity and applies drag.
func (s *Server) integrate() {
	for _, e := range s.entities {
		if e.velocity.IsZero() {
			continue
		}
		e.position = e.position.Add(e.velocity)
		e.velocity = e.velocity.Mul(s.cfg.Drag)
		e.velocity = Vec3{X: snap(e.velocity.X), Y: snap(e.velocity.Y), Z: snap(e.velocity.Z)}
		s.gridDirty = true
	}
}

func snap(v float64) float64 {
	if math.Abs(v) < minVelocity {
		return 0
	}
	return v
}

// =============================================================================
// PLAYERS
// =============================================================================

// Join brings name online: loads its data, places it at spawn and fires join
// listeners. Joining a name that is already online returns that player.
// Loop-only.
func (s *Server) Join(name string) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("join: empty name")
	}
	id := PlayerID(name)
	if p, ok := s.players[id]; ok {
		return p, nil
	}
	if len(s.entities) >= s.cfg.MaxEntities {
		return nil, fmt.Errorf("join %s: %w", name, ErrEntityLimit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("join %s: load data: %w", name, err)
	}

	e := &Entity{
		id:       id,
		name:     name,
		kind:     KindPlayer,
		position: Vec3{X: s.cfg.Spawn[0], Y: s.cfg.Spawn[1], Z: s.cfg.Spawn[2]},
		data:     NewDataContainer(rec),
		server:   s,
	}
	p := &Player{
		Entity: e,
		online: true,
		outbox: make(chan Message, outboxSize),
	}
	e.player = p

	s.entities[id] = e
	s.players[id] = p
	s.gridDirty = true

	s.logger.Info("player joined", zap.String("player", name), zap.Stringer("id", id))
	s.listeners.fireJoin(&PlayerJoinEvent{Player: p})
	return p, nil
}

// Quit fires quit listeners, saves the player's data and removes it.
// Loop-only.
func (s *Server) Quit(id uuid.UUID) error {
	p, ok := s.players[id]
	if !ok {
		return fmt.Errorf("quit %s: %w", id, ErrPlayerNotFound)
	}

	s.listeners.fireQuit(&PlayerQuitEvent{Player: p})

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.savePlayer(ctx, p); err != nil {
		// The player is leaving anyway; keep going.
		s.logger.Error("saving player data on quit", zap.String("player", p.Name()), zap.Error(err))
	}

	p.online = false
	p.removed = true
	close(p.outbox)
	delete(s.players, id)
	delete(s.entities, id)
	s.gridDirty = true

	s.logger.Info("player quit", zap.String("player", p.Name()))
	return nil
}

// Player returns the online player with id. Loop-only.
func (s *Server) Player(id uuid.UUID) (*Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

// PlayerByName finds an online player, ignoring case. Loop-only.
func (s *Server) PlayerByName(name string) (*Player, bool) {
	return s.Player(PlayerID(name))
}

// OnlinePlayers returns online players sorted by name. Loop-only.
func (s *Server) OnlinePlayers() []*Player {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].name) < strings.ToLower(out[j].name)
	})
	return out
}

// =============================================================================
// ENTITIES
// =============================================================================

// SpawnEntity adds a non-player entity. Loop-only.
func (s *Server) SpawnEntity(kind EntityKind, name string, pos Vec3) (*Entity, error) {
	if kind == KindPlayer {
		return nil, fmt.Errorf("spawn %s: players join, they are not spawned", name)
	}
	if len(s.entities) >= s.cfg.MaxEntities {
		return nil, fmt.Errorf("spawn %s: %w", name, ErrEntityLimit)
	}
	if name == "" {
		name = string(kind)
	}
	e := &Entity{
		id:       uuid.New(),
		name:     name,
		kind:     kind,
		position: pos,
		data:     NewDataContainer(nil),
		server:   s,
	}
	s.entities[e.id] = e
	s.gridDirty = true

	s.logger.Debug("entity spawned", zap.String("kind", string(kind)), zap.Stringer("id", e.id))
	return e, nil
}

// RemoveEntity removes a non-player entity. Players leave through Quit.
// Loop-only.
func (s *Server) RemoveEntity(id uuid.UUID) error {
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("remove %s: entity not found", id)
	}
	if e.player != nil {
		return s.Quit(id)
	}
	e.removed = true
	delete(s.entities, id)
	s.gridDirty = true
	return nil
}

// Entity returns the entity with id. Loop-only.
func (s *Server) Entity(id uuid.UUID) (*Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// Entities returns every entity, players included, sorted by id. Loop-only.
func (s *Server) Entities() []*Entity {
	return s.sortedEntities()
}

func (s *Server) sortedEntities() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sortEntities(out)
	return out
}

func sortEntities(es []*Entity) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i].id, es[j].id
		return string(a[:]) < string(b[:])
	})
}

// NearbyEntities returns the entities other than e whose position lies in the
// box of half-extents (rx, ry, rz) centred on e, sorted by id. Loop-only.
func (s *Server) NearbyEntities(e *Entity, rx, ry, rz float64) []*Entity {
	s.ensureGrid()

	c := e.position
	var out []*Entity
	for _, idx := range s.grid.QueryBox(c.X, c.Z, rx, rz) {
		n := s.gridEntities[idx]
		if n == e || n.removed {
			continue
		}
		d := n.position.Sub(c)
		if math.Abs(d.X) <= rx && math.Abs(d.Y) <= ry && math.Abs(d.Z) <= rz {
			out = append(out, n)
		}
	}
	sortEntities(out)
	return out
}

// ensureGrid rebuilds the spatial index if anything moved since the last
// query.
func (s *Server) ensureGrid() {
	if !s.gridDirty {
		return
	}
	s.grid.Clear()
	s.gridEntities = s.gridEntities[:0]
	for _, e := range s.entities {
		s.grid.Insert(uint32(len(s.gridEntities)), e.position.X, e.position.Z)
		s.gridEntities = append(s.gridEntities, e)
	}
	s.gridDirty = false
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (s *Server) savePlayer(ctx context.Context, p *Player) error {
	if !p.data.Dirty() {
		return nil
	}
	if err := s.store.Save(ctx, p.id, p.data.Snapshot()); err != nil {
		return fmt.Errorf("save %s: %w", p.Name(), err)
	}
	p.data.MarkClean()
	return nil
}

// SaveAll saves every online player with unsaved changes. Loop-only.
func (s *Server) SaveAll(ctx context.Context) error {
	var errs []error
	for _, p := range s.players {
		if err := s.savePlayer(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	// Failed saves stay dirty and are retried next time.
	if err := s.SaveAll(ctx); err != nil {
		s.logger.Warn("autosave failed", zap.Error(err))
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Scheduler returns the tick scheduler. Loop-only.
func (s *Server) Scheduler() *Scheduler { return s.scheduler }

// Commands returns the command map. Loop-only.
func (s *Server) Commands() *CommandMap { return s.commands }

// Permissions returns the permission manager. Safe from any goroutine.
func (s *Server) Permissions() *PermissionManager { return s.permissions }

// Console returns the console sender.
func (s *Server) Console() *ConsoleSender { return s.console }

// Logger returns the server logger. Plugins derive named loggers from it.
func (s *Server) Logger() *zap.Logger { return s.logger }

// Config returns the server configuration.
func (s *Server) Config() config.ServerConfig { return s.cfg }
