// Package economy implements the all-or-nothing stock operations on a rocket:
// building and recycling engines, expanding and reducing the capture collector,
// stat upgrades and the derived mass/thrust/consumption aggregate.
//
// Insufficient funds are reported as ok=false with the rocket left untouched.
package economy

import (
	"lightspeed/internal/domain"
	"lightspeed/internal/quantity"
)

type Q = quantity.Quantity

var hundred = quantity.FromInt(100)

// EnginePatch replaces the non-nil engine stats.
type EnginePatch struct {
	Mass        *Q
	Output      *Q
	Consumption *Q
	Loss        *Q
}

// CapturePatch replaces the non-nil collector stats.
type CapturePatch struct {
	Step *Q
	Mass *Q
	Rate *Q
}

// TryBuild builds up to requested engines of kind. At least one unit is
// attempted; the committed count never exceeds requested.
func TryBuild(r *domain.Rocket, kind domain.EngineKind, requested Q) (Q, bool) {
	e := r.Engines[kind]
	if e == nil || !requested.IsPositive() {
		return quantity.Zero, false
	}
	count := requested
	if e.Mass.IsPositive() {
		possible := quantity.Max(quantity.One, r.Material.Div(e.Mass).Floor())
		count = quantity.Min(possible, requested)
	}
	cost := e.Mass.Mul(count)
	if r.Material.LessThan(cost) {
		return quantity.Zero, false
	}
	e.Count = e.Count.Add(count)
	r.Material = r.Material.Sub(cost)
	return count, true
}

// TryRecycle removes up to requested engines of kind and refunds their mass.
func TryRecycle(r *domain.Rocket, kind domain.EngineKind, requested Q) (Q, bool) {
	e := r.Engines[kind]
	if e == nil || !requested.IsPositive() || !e.Count.IsPositive() {
		return quantity.Zero, false
	}
	count := quantity.Min(e.Count, requested)
	e.Count = e.Count.Sub(count)
	r.Material = r.Material.Add(e.Mass.Mul(count))
	return count, true
}

// TryExpand grows the collector by up to requested whole steps. The collector
// is a square whose side grows by step per expansion; cost is the added area
// times the unit mass. Fewer than one whole step is a successful no-op.
func TryExpand(r *domain.Rocket, requested Q) (Q, bool) {
	if requested.IsNegative() {
		return quantity.Zero, false
	}
	steps := requested.Floor()
	if steps.LessThan(quantity.One) {
		return quantity.Zero, true
	}
	c := &r.Capture
	if !c.Step.IsPositive() {
		return quantity.Zero, false
	}
	side := c.Area.Sqrt()
	count := steps
	if c.Mass.IsPositive() {
		reach := r.Material.Div(c.Mass).Add(c.Area).Sqrt().Sub(side)
		possible := quantity.Max(quantity.One, reach.Div(c.Step).Floor())
		count = quantity.Min(possible, steps)
	}
	area := side.Add(count.Mul(c.Step)).Pow(2)
	cost := area.Sub(c.Area).Mul(c.Mass)
	if r.Material.LessThan(cost) {
		return quantity.Zero, false
	}
	c.Count = c.Count.Add(count)
	c.Area = area
	r.Material = r.Material.Sub(cost)
	return count, true
}

// TryReduce shrinks the collector by up to requested whole steps and refunds
// the removed area. Fewer than one whole step is a successful no-op.
func TryReduce(r *domain.Rocket, requested Q) (Q, bool) {
	if requested.IsNegative() {
		return quantity.Zero, false
	}
	steps := requested.Floor()
	if steps.LessThan(quantity.One) {
		return quantity.Zero, true
	}
	c := &r.Capture
	if !c.Area.IsPositive() {
		return quantity.Zero, false
	}
	count := quantity.Min(c.Count, steps)
	remaining := c.Count.Sub(count)
	area := quantity.Zero
	if remaining.IsPositive() {
		side := quantity.Max(quantity.Zero, c.Area.Sqrt().Sub(count.Mul(c.Step)))
		area = side.Pow(2)
	}
	r.Material = r.Material.Add(c.Area.Sub(area).Mul(c.Mass))
	c.Count = remaining
	c.Area = area
	return count, true
}

// UpgradeEngines applies patch as an atomic re-scale: every unit is recycled
// at the old mass, the stats are replaced, and the same count is rebuilt at
// the new mass. When the exact count is unaffordable the rebuild falls back to
// TryBuild. It returns the count present after the upgrade.
func UpgradeEngines(r *domain.Rocket, kind domain.EngineKind, patch EnginePatch) Q {
	e := r.Engines[kind]
	if e == nil {
		return quantity.Zero
	}
	prior := e.Count
	if prior.IsPositive() {
		TryRecycle(r, kind, prior)
	}
	if patch.Mass != nil {
		e.Mass = *patch.Mass
	}
	if patch.Output != nil {
		e.Output = *patch.Output
	}
	if patch.Consumption != nil {
		e.Consumption = *patch.Consumption
	}
	if patch.Loss != nil {
		e.Loss = *patch.Loss
	}
	if prior.IsPositive() {
		cost := e.Mass.Mul(prior)
		if r.Material.GreaterThanOrEqual(cost) {
			e.Count = e.Count.Add(prior)
			r.Material = r.Material.Sub(cost)
		} else {
			TryBuild(r, kind, prior)
		}
	}
	return e.Count
}

// UpgradeCapture is the collector counterpart of UpgradeEngines.
func UpgradeCapture(r *domain.Rocket, patch CapturePatch) Q {
	c := &r.Capture
	prior := c.Count
	if prior.IsPositive() {
		TryReduce(r, prior)
	}
	if patch.Step != nil {
		c.Step = *patch.Step
	}
	if patch.Mass != nil {
		c.Mass = *patch.Mass
	}
	if patch.Rate != nil {
		c.Rate = *patch.Rate
	}
	if prior.IsPositive() {
		area := prior.Mul(c.Step).Pow(2)
		cost := area.Mul(c.Mass)
		if r.Material.GreaterThanOrEqual(cost) {
			c.Count = prior
			c.Area = area
			r.Material = r.Material.Sub(cost)
		} else {
			TryExpand(r, prior)
		}
	}
	return c.Count
}

// SetThrottle sets the throttle percentage clamped to [0, 100].
func SetThrottle(r *domain.Rocket, kind domain.EngineKind, pct int) bool {
	e := r.Engines[kind]
	if e == nil {
		return false
	}
	e.Throttle = min(max(pct, 0), 100)
	return true
}

// Derive computes the aggregate used by one integration step. Engines with no
// units have their throttle forced to zero and every engine's Thrust is refreshed.
func Derive(r *domain.Rocket) domain.Derived {
	mass := r.Fuel.Add(r.Material)
	thrust := quantity.Zero
	consumption := quantity.Zero
	for _, kind := range domain.EngineKinds() {
		e := r.Engines[kind]
		if e == nil {
			continue
		}
		if e.Count.IsZero() {
			e.Throttle = 0
		}
		throttle := quantity.FromInt(int64(e.Throttle)).Div(hundred)
		efficiency := quantity.One.Sub(throttle.Sqrt().Mul(e.Loss))
		mass = mass.Add(e.Count.Mul(e.Mass))
		// Output scales with count squared.
		e.Thrust = e.Count.Mul(e.Output).Mul(e.Count).Mul(e.Consumption).Mul(throttle).Mul(efficiency)
		thrust = thrust.Add(e.Thrust)
		consumption = consumption.Add(e.Count.Mul(e.Consumption).Mul(throttle))
	}
	mass = mass.Add(r.Capture.Area.Mul(r.Capture.Mass))
	return domain.Derived{
		Distance:    r.Distance,
		Velocity:    r.Velocity,
		Mass:        mass,
		Fuel:        r.Fuel,
		Thrust:      thrust,
		Consumption: consumption,
		Capture:     r.Capture,
	}
}
