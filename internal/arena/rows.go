package arena

import (
	"lockstep/internal/entity"
	"lockstep/internal/fixedpoint"
)

// Table kinds, also the declared table order for snapshots and hashing.
const (
	KindMatch      uint16 = 1
	KindPlayer     uint16 = 2
	KindProjectile uint16 = 3
)

// Balance constants. Distances and speeds are world units per tick; all
// timers count ticks.
const (
	maxHP      int32 = 100
	maxStamina int32 = 100

	moveSpeed  fixedpoint.Fixed = fixedpoint.One / 8
	dodgeSpeed fixedpoint.Fixed = fixedpoint.One / 2

	dodgeStaminaCost    int32 = 40
	staminaRegenPerTick int32 = 1
	dodgeDurationTicks  int32 = 6
	dodgeCooldownTicks  int32 = 20
	dodgeInvulnTicks    int32 = 4

	meleeRange          fixedpoint.Fixed = 2 * fixedpoint.One
	meleeDamage         int32            = 10
	attackCooldownTicks int32            = 10
	comboWindowTicks    int32            = 12
	maxComboHits        int32            = 4

	projectileSpeed     fixedpoint.Fixed = fixedpoint.One / 2
	projectileHitRange  fixedpoint.Fixed = fixedpoint.One
	projectileDamage    int32            = 15
	projectileLifetime  int32            = 60
	fireCooldownTicks   int32            = 30
	fireStaminaCost     int32            = 20

	respawnTicks int32 = 60
)

// comboDamagePercent scales melee damage by combo depth, in integer
// percent so the multiplication stays exact.
var comboDamagePercent = [maxComboHits]int32{100, 110, 125, 150}

// PlayerRow is one fighter. Rows persist for the whole match; death only
// starts the respawn timer, it never frees the row.
type PlayerRow struct {
	Pos    fixedpoint.Fixed2
	Vel    fixedpoint.Fixed2
	Facing fixedpoint.Fixed

	HP      int32
	Stamina int32

	ComboCount     int32
	ComboWindow    int32
	AttackCooldown int32
	FireCooldown   int32
	DodgeTimer     int32
	DodgeCooldown  int32
	DodgeDirX      fixedpoint.Fixed
	DodgeDirY      fixedpoint.Fixed
	InvulnTicks    int32
	RespawnTicks   int32

	Kills  int32
	Deaths int32

	// Intents latched from the frame's input by the input system and
	// consumed by the combat system later in the same tick.
	AttackIntent uint8
	FireIntent   uint8

	Slot uint8 // player index this row belongs to
	Pad  uint8
}

// ProjectileRow is one in-flight ranged shot.
type ProjectileRow struct {
	Pos    fixedpoint.Fixed2
	Vel    fixedpoint.Fixed2
	Damage int32
	TTL    int32
	Owner  entity.Handle
}

// MatchRow is the singleton match state, allocated once at world
// construction.
type MatchRow struct {
	Seed       uint32
	TotalKills int32
	FirstBlood entity.Handle
}
