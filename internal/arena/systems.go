package arena

import (
	"lockstep/internal/entity"
	"lockstep/internal/fixedpoint"
)

// applyInputs runs first each tick: timers, movement, facing, dodge and
// intent latching. It only mutates player rows in place; nothing here is
// structural.
func (w *World) applyInputs() error {
	frame := w.frame + 1
	rows := w.Players.Rows()
	for i := range rows {
		p := &rows[i]
		tickTimers(p)

		if p.RespawnTicks > 0 {
			p.RespawnTicks--
			if p.RespawnTicks == 0 {
				respawn(p)
			} else {
				p.Vel = fixedpoint.Fixed2{}
			}
			continue
		}

		in := w.inputFor(frame, int(p.Slot))

		move := fixedpoint.Vec2(fixedpoint.FromInt(int64(in.MoveX)), fixedpoint.FromInt(int64(in.MoveY)))
		if dir, err := move.Normalise(); err == nil {
			if p.DodgeTimer > 0 {
				// Dodge direction was locked when the roll started.
				p.Vel = fixedpoint.Vec2(p.DodgeDirX, p.DodgeDirY).Scale(dodgeSpeed)
			} else {
				p.Vel = dir.Scale(moveSpeed)
			}
		} else if p.DodgeTimer > 0 {
			p.Vel = fixedpoint.Vec2(p.DodgeDirX, p.DodgeDirY).Scale(dodgeSpeed)
		} else {
			p.Vel = fixedpoint.Fixed2{}
		}
		p.Pos = p.Pos.Add(p.Vel)

		aim := fixedpoint.Vec2(fixedpoint.FromInt(int64(in.AimX)), fixedpoint.FromInt(int64(in.AimY)))
		if aim != (fixedpoint.Fixed2{}) {
			p.Facing = fixedpoint.Atan2(aim.Y, aim.X)
		}

		if in.Buttons&ButtonDodge != 0 && p.DodgeTimer == 0 && p.DodgeCooldown == 0 && p.Stamina >= dodgeStaminaCost {
			dir, err := move.Normalise()
			if err != nil {
				// Dodging while standing still rolls along the facing.
				dir = fixedpoint.Vec2(fixedpoint.Cos(p.Facing), fixedpoint.Sin(p.Facing))
			}
			p.DodgeTimer = dodgeDurationTicks
			p.DodgeCooldown = dodgeCooldownTicks
			p.InvulnTicks = dodgeInvulnTicks
			p.DodgeDirX = dir.X
			p.DodgeDirY = dir.Y
			p.Stamina -= dodgeStaminaCost
		}

		if in.Buttons&ButtonAttack != 0 && p.AttackCooldown == 0 {
			p.AttackIntent = 1
		}
		if in.Buttons&ButtonFire != 0 && p.FireCooldown == 0 && p.Stamina >= fireStaminaCost {
			p.FireIntent = 1
		}

		if p.Stamina < maxStamina {
			p.Stamina += staminaRegenPerTick
		}
	}
	return nil
}

func tickTimers(p *PlayerRow) {
	if p.ComboWindow > 0 {
		p.ComboWindow--
		if p.ComboWindow == 0 {
			p.ComboCount = 0
		}
	}
	if p.AttackCooldown > 0 {
		p.AttackCooldown--
	}
	if p.FireCooldown > 0 {
		p.FireCooldown--
	}
	if p.DodgeTimer > 0 {
		p.DodgeTimer--
	}
	if p.DodgeCooldown > 0 {
		p.DodgeCooldown--
	}
	if p.InvulnTicks > 0 {
		p.InvulnTicks--
	}
}

func respawn(p *PlayerRow) {
	slot := p.Slot
	kills, deaths := p.Kills, p.Deaths
	*p = PlayerRow{
		Pos:     spawnPosition(int(slot)),
		HP:      maxHP,
		Stamina: maxStamina,
		Kills:   kills,
		Deaths:  deaths,
		Slot:    slot,
	}
}

// rebuildSpatial re-buckets both position-indexed tables so the combat
// and projectile systems query this frame's movement.
func (w *World) rebuildSpatial() error {
	w.Players.RebuildSpatialIndex()
	w.Projectiles.RebuildSpatialIndex()
	return nil
}

// resolveCombat consumes the intents latched by applyInputs: melee swings
// hit everyone in range, ranged shots queue a projectile spawn on the
// command buffer.
func (w *World) resolveCombat() error {
	rows := w.Players.Rows()
	var hits [MaxPlayers]int32
	for i := range rows {
		p := &rows[i]
		if p.RespawnTicks > 0 {
			p.AttackIntent = 0
			p.FireIntent = 0
			continue
		}

		if p.AttackIntent != 0 {
			p.AttackIntent = 0
			p.AttackCooldown = attackCooldownTicks
			if p.ComboWindow > 0 && p.ComboCount < maxComboHits {
				p.ComboCount++
			} else {
				p.ComboCount = 1
			}
			p.ComboWindow = comboWindowTicks
			damage := meleeDamage * comboDamagePercent[p.ComboCount-1] / 100

			attacker, err := w.Players.HandleAt(i)
			if err != nil {
				return err
			}
			n, _, err := w.Players.QueryRadius(p.Pos, meleeRange, hits[:])
			if err != nil {
				return err
			}
			for _, r := range hits[:n] {
				if int(r) == i {
					continue
				}
				w.applyDamage(attacker, &rows[r], damage)
			}
		}

		if p.FireIntent != 0 {
			p.FireIntent = 0
			p.FireCooldown = fireCooldownTicks
			p.Stamina -= fireStaminaCost

			owner, err := w.Players.HandleAt(i)
			if err != nil {
				return err
			}
			dir := fixedpoint.Vec2(fixedpoint.Cos(p.Facing), fixedpoint.Sin(p.Facing))
			start := p.Pos.Add(dir.Scale(meleeRange))
			w.Projectiles.Commands().QueueAllocate(func(row *ProjectileRow) {
				*row = ProjectileRow{
					Pos:    start,
					Vel:    dir.Scale(projectileSpeed),
					Damage: projectileDamage,
					TTL:    projectileLifetime,
					Owner:  owner,
				}
			})
		}
	}
	return nil
}

// advanceProjectiles integrates every projectile, damages the first
// fighter it overlaps (ascending cell then row order, so every peer picks
// the same victim) and queues expired rows for freeing.
func (w *World) advanceProjectiles() error {
	rows := w.Projectiles.Rows()
	players := w.Players.Rows()
	var hits [MaxPlayers]int32
	for i := range rows {
		pr := &rows[i]
		pr.Pos = pr.Pos.Add(pr.Vel)
		pr.TTL--
		expired := pr.TTL <= 0

		if !expired {
			n, _, err := w.Players.QueryRadius(pr.Pos, projectileHitRange, hits[:])
			if err != nil {
				return err
			}
			for _, r := range hits[:n] {
				target := &players[r]
				h, err := w.Players.HandleAt(int(r))
				if err != nil {
					return err
				}
				if h == pr.Owner || target.RespawnTicks > 0 || target.InvulnTicks > 0 {
					continue
				}
				w.applyDamage(pr.Owner, target, pr.Damage)
				expired = true
				break
			}
		}

		if expired {
			h, err := w.Projectiles.HandleAt(i)
			if err != nil {
				return err
			}
			w.Projectiles.Commands().QueueFree(h)
		}
	}
	return nil
}

// applyDamage lowers target's HP, crediting attacker with the kill and
// starting the respawn timer when it drops to zero.
func (w *World) applyDamage(attacker entity.Handle, target *PlayerRow, damage int32) {
	if target.RespawnTicks > 0 || target.InvulnTicks > 0 || target.HP <= 0 {
		return
	}
	target.HP -= damage
	if target.HP > 0 {
		return
	}
	target.HP = 0
	target.Deaths++
	target.RespawnTicks = respawnTicks
	target.ComboCount = 0
	target.ComboWindow = 0

	match := w.MatchState()
	match.TotalKills++
	if row, err := w.Players.Get(attacker); err == nil {
		row.Kills++
		if match.FirstBlood == entity.Invalid {
			match.FirstBlood = attacker
		}
	}
}
