package session

import (
	"sync/atomic"

	"lockstep/internal/fixedpoint"
)

// PlayerView is an immutable copy of one fighter for an external reader.
// Coordinates are converted out of fixed point here, at the boundary; the
// simulation itself never sees a float.
type PlayerView struct {
	Slot    uint8
	X, Y    float64
	HP      int32
	Stamina int32
	Kills   int32
	Deaths  int32
	Dead    bool
}

// ProjectileView is an immutable copy of one projectile.
type ProjectileView struct {
	X, Y float64
	TTL  int32
}

// StateView is one published copy of the world, safe to read while the
// tick keeps running.
type StateView struct {
	Sequence    uint64
	Frame       int64
	Phase       string
	TotalKills  int32
	Players     []PlayerView
	Projectiles []ProjectileView
}

// StatePool triple-buffers StateViews so an external reader (HTTP
// handler, renderer) never blocks the tick and never sees a half-written
// view: the tick writes into one slot, publishes it with an atomic store,
// and readers always acquire the latest published slot.
type StatePool struct {
	views    [3]StateView
	writeIdx uint32 // atomic, producer only
	readIdx  uint32 // atomic
	sequence uint64
}

// NewStatePool preallocates the three view slots for playerCount
// fighters.
func NewStatePool(playerCount int) *StatePool {
	p := &StatePool{}
	for i := range p.views {
		p.views[i].Players = make([]PlayerView, 0, playerCount)
		p.views[i].Projectiles = make([]ProjectileView, 0, 64)
	}
	return p
}

// AcquireWrite returns the next write slot with slices reset but capacity
// kept. Tick thread only.
func (p *StatePool) AcquireWrite() *StateView {
	idx := atomic.AddUint32(&p.writeIdx, 1) % 3
	v := &p.views[idx]
	v.Players = v.Players[:0]
	v.Projectiles = v.Projectiles[:0]
	p.sequence++
	v.Sequence = p.sequence
	return v
}

// PublishWrite makes the most recently written slot visible to readers.
func (p *StatePool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
}

// AcquireRead returns the latest published view. Safe from any goroutine;
// the view stays valid until the producer laps the ring, which outside
// readers tolerate by copying what they need immediately.
func (p *StatePool) AcquireRead() *StateView {
	idx := atomic.LoadUint32(&p.readIdx) % 3
	return &p.views[idx]
}

func fixedToFloat(f fixedpoint.Fixed) float64 {
	return float64(f) / float64(fixedpoint.One)
}

// publishState copies the world into the pool after a tick completes.
func (s *Session) publishState() {
	v := s.pool.AcquireWrite()
	v.Frame = *s.world.Frame()
	v.Phase = s.phase.String()
	v.TotalKills = s.world.MatchState().TotalKills

	players := s.world.Players.Rows()
	for i := range players {
		p := &players[i]
		v.Players = append(v.Players, PlayerView{
			Slot:    p.Slot,
			X:       fixedToFloat(p.Pos.X),
			Y:       fixedToFloat(p.Pos.Y),
			HP:      p.HP,
			Stamina: p.Stamina,
			Kills:   p.Kills,
			Deaths:  p.Deaths,
			Dead:    p.RespawnTicks > 0,
		})
	}
	projectiles := s.world.Projectiles.Rows()
	for i := range projectiles {
		pr := &projectiles[i]
		if len(v.Projectiles) == cap(v.Projectiles) {
			break
		}
		v.Projectiles = append(v.Projectiles, ProjectileView{
			X:   fixedToFloat(pr.Pos.X),
			Y:   fixedToFloat(pr.Pos.Y),
			TTL: pr.TTL,
		})
	}
	s.pool.PublishWrite()
}
