package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bunger-shield/internal/config"
	"bunger-shield/internal/store"
)

func newTestServer(t *testing.T, st store.Store) *Server {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.TickRate = 100
	return NewServer(Options{Server: cfg, Store: st})
}

type joinRecorder struct {
	joined []string
	quit   []string
}

func (r *joinRecorder) OnJoin(e *PlayerJoinEvent) { r.joined = append(r.joined, e.Player.Name()) }
func (r *joinRecorder) OnQuit(e *PlayerQuitEvent) { r.quit = append(r.quit, e.Player.Name()) }

func TestServer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t, nil)
	s.Start()
	s.Start() // no-op

	ran := false
	err := s.Call(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	s.Stop()
	s.Stop() // idempotent

	assert.ErrorIs(t, s.Submit(func() {}), ErrNotRunning)
	assert.ErrorIs(t, s.Call(context.Background(), func() error { return nil }), ErrNotRunning)
}

func TestServer_CallReturnsError(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t, nil)
	s.Start()
	defer s.Stop()

	boom := errors.New("boom")
	err := s.Call(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestServer_CallBeforeStart(t *testing.T) {
	s := newTestServer(t, nil)
	assert.ErrorIs(t, s.Call(context.Background(), func() error { return nil }), ErrNotRunning)
}

func TestServer_TicksAdvanceWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t, nil)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.Snapshot().TickNumber >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_JoinQuitPersistsData(t *testing.T) {
	st := store.NewMemoryStore()
	s := newTestServer(t, st)
	rec := &joinRecorder{}
	s.RegisterListener(nil, rec)
	key := NewKey("shield", "shielded")

	p, err := s.Join("Steve")
	require.NoError(t, err)
	assert.True(t, p.IsOnline())
	assert.Equal(t, PlayerID("steve"), p.ID())

	again, err := s.Join("STEVE")
	require.NoError(t, err)
	assert.Same(t, p, again, "joining an online name returns the same player")

	p.Data().SetBool(key, true)
	require.NoError(t, s.Quit(p.ID()))
	assert.False(t, p.IsOnline())
	assert.False(t, p.Valid())
	_, open := <-p.Messages()
	assert.False(t, open, "outbox is closed on quit")

	p2, err := s.Join("Steve")
	require.NoError(t, err)
	assert.True(t, p2.Data().BoolOr(key, false), "data survives quit and rejoin")

	assert.Equal(t, []string{"Steve", "Steve"}, rec.joined)
	assert.Equal(t, []string{"Steve"}, rec.quit)

	assert.ErrorIs(t, s.Quit(PlayerID("nobody")), ErrPlayerNotFound)
}

func TestServer_SendMessageToOfflineIsDropped(t *testing.T) {
	s := newTestServer(t, nil)
	p, err := s.Join("Alex")
	require.NoError(t, err)

	p.SendMessage(Plain("hello"))
	assert.Equal(t, Plain("hello"), <-p.Messages())

	require.NoError(t, s.Quit(p.ID()))
	p.SendMessage(Plain("late")) // must not panic on the closed outbox
}

func TestServer_PhysicsIntegration(t *testing.T) {
	s := newTestServer(t, nil)
	e, err := s.SpawnEntity(KindMob, "zombie", Vec3{X: 0, Y: 64, Z: 0})
	require.NoError(t, err)

	e.SetVelocity(Vec3{X: 1})
	s.Tick()

	assert.InDelta(t, 1.0, e.Location().X, 1e-9)
	assert.InDelta(t, 0.91, e.Velocity().X, 1e-9)

	for i := 0; i < 200; i++ {
		s.Tick()
	}
	assert.True(t, e.Velocity().IsZero(), "tiny velocities snap to zero")
}

func TestServer_NearbyEntities(t *testing.T) {
	s := newTestServer(t, nil)
	center, _ := s.SpawnEntity(KindMob, "center", Vec3{X: 0, Y: 64, Z: 0})
	inside, _ := s.SpawnEntity(KindMob, "inside", Vec3{X: 2, Y: 65, Z: -2})
	corner, _ := s.SpawnEntity(KindItem, "corner", Vec3{X: 3, Y: 67, Z: 3})
	s.SpawnEntity(KindMob, "far", Vec3{X: 3.5, Y: 64, Z: 0})
	s.SpawnEntity(KindMob, "above", Vec3{X: 0, Y: 68, Z: 0})

	got := s.NearbyEntities(center, 3, 3, 3)

	want := []*Entity{inside, corner}
	sortEntities(want)
	assert.Equal(t, want, got)

	// Moving an entity is seen by the next query.
	inside.Teleport(Vec3{X: 100, Y: 64, Z: 100})
	assert.Equal(t, []*Entity{corner}, s.NearbyEntities(center, 3, 3, 3))

	require.NoError(t, s.RemoveEntity(corner.ID()))
	assert.Empty(t, s.NearbyEntities(center, 3, 3, 3))
	assert.False(t, corner.Valid())
}

func TestServer_EntityLimit(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.MaxEntities = 1
	s := NewServer(Options{Server: cfg})

	_, err := s.SpawnEntity(KindMob, "", Vec3{})
	require.NoError(t, err)
	_, err = s.Join("Steve")
	assert.ErrorIs(t, err, ErrEntityLimit)
}

func TestServer_PluginEnableFailureCleansUp(t *testing.T) {
	s := newTestServer(t, nil)
	rec := &joinRecorder{}
	p := &stubPlugin{name: "broken"}
	taskRuns := 0
	p.onEnable = func(s *Server) error {
		s.RegisterListener(p, rec)
		s.Scheduler().RunTaskTimer(p, 0, 1, func() { taskRuns++ })
		if err := s.Commands().Register(p, "broken", &completingExecutor{}); err != nil {
			return err
		}
		return s.Commands().Register(p, "list", &completingExecutor{}) // taken by the server
	}

	err := s.EnablePlugin(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandExists)

	assert.False(t, s.Commands().Has("broken"))
	assert.True(t, s.Commands().Has("list"))
	assert.Empty(t, s.Plugins())

	s.Tick()
	_, _ = s.Join("Steve")
	assert.Zero(t, taskRuns)
	assert.Empty(t, rec.joined)
}

func TestServer_StopDisablesPluginsAndSaves(t *testing.T) {
	st := store.NewMemoryStore()
	s := newTestServer(t, st)
	p := &stubPlugin{name: "ok"}
	require.NoError(t, s.EnablePlugin(p))
	assert.Error(t, s.EnablePlugin(p), "enabling twice fails")

	pl, err := s.Join("Steve")
	require.NoError(t, err)
	key := NewKey("shield", "radius")
	pl.Data().SetFloat(key, 5)

	s.Start()
	s.Stop()

	assert.Equal(t, 1, p.disabled)
	rec, err := st.Load(context.Background(), pl.ID())
	require.NoError(t, err)
	assert.Equal(t, store.FloatValue(5), rec[key.String()])
}

func TestServer_Autosave(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := config.DefaultServer()
	cfg.AutosaveTicks = 2
	s := NewServer(Options{Server: cfg, Store: st})

	p, err := s.Join("Steve")
	require.NoError(t, err)
	p.Data().SetBool(NewKey("shield", "shielded"), true)

	s.Tick()
	rec, _ := st.Load(context.Background(), p.ID())
	assert.Empty(t, rec)

	s.Tick()
	rec, _ = st.Load(context.Background(), p.ID())
	assert.Equal(t, store.BoolValue(true), rec["shield:shielded"])
	assert.False(t, p.Data().Dirty())
}

func TestServer_Snapshot(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.Snapshot()
	require.NotNil(t, first)

	_, err := s.Join("Steve")
	require.NoError(t, err)
	s.SpawnEntity(KindMob, "zombie", Vec3{X: 1})
	s.Tick()

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.TickNumber)
	assert.Equal(t, 1, snap.PlayerCount)
	assert.Len(t, snap.Entities, 2)
	assert.Greater(t, snap.Sequence, first.Sequence)
	assert.Empty(t, first.Entities, "published snapshots are never mutated")
}

func TestServer_BuiltinCommands(t *testing.T) {
	s := newTestServer(t, nil)
	p, err := s.Join("Steve")
	require.NoError(t, err)

	require.NoError(t, s.Commands().Dispatch(p, "tp", []string{"10", "70", "-5"}))
	assert.Equal(t, Vec3{X: 10, Y: 70, Z: -5}, p.Location())
	<-p.Messages()

	require.NoError(t, s.Commands().Dispatch(p, "where", nil))
	assert.Equal(t, "You are at 10.0, 70.0, -5.0.", (<-p.Messages()).Text)

	console := s.Console()
	require.NoError(t, s.Commands().Dispatch(console, "list", nil))
	require.NoError(t, s.Commands().Dispatch(console, "where", nil))
	replies := console.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, "There are 1 players online: Steve", replies[0].Text)
	assert.Equal(t, "You must be a player to use this command.", replies[1].Text)

	require.NoError(t, s.Commands().Dispatch(p, "tp", []string{"1", "NaN", "2"}))
	assert.Equal(t, ColorRed, (<-p.Messages()).Color)
}
