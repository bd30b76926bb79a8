package derby

import (
	"math/rand"
	"time"
)

// Weighted score increments for simulated opponents. Weights sum to 100; a
// uniform draw in [0,100) selects the first bucket whose cumulative weight
// exceeds it.
var botIncrementWeights = []struct {
	step   int
	weight int
}{
	{step: 1, weight: 85},
	{step: 2, weight: 14},
	{step: 4, weight: 1},
}

// botTimer is the independent repeating schedule for one simulated opponent.
// Every interval is re-sampled from the bot's own jittered window, so no two
// bots share a synchronized clock.
type botTimer struct {
	identity string
	seat     int

	minInterval time.Duration
	maxInterval time.Duration
	nextFireAt  time.Time
}

// botDriver advances the score of every simulated opponent through the same
// state-mutation path as validated human input. It is armed a short settle
// delay after race launch and ceases once the race finishes or the session
// tears down.
type botDriver struct {
	config *RaceConfig
	rng    *rand.Rand

	bots  []*botTimer
	armAt time.Time
	armed bool
}

func newBotDriver(config *RaceConfig, rng *rand.Rand) *botDriver {
	return &botDriver{config: config, rng: rng}
}

// add registers a simulated opponent seat with the driver. Timing is not
// sampled until the driver arms.
func (d *botDriver) add(identity string, seat int) {
	d.bots = append(d.bots, &botTimer{identity: identity, seat: seat})
}

// scheduleArm sets the one-shot settle delay before the bots begin firing.
func (d *botDriver) scheduleArm(now time.Time) {
	d.armAt = now.Add(d.config.botArmDelay())
}

// armDue reports whether the settle delay has elapsed.
func (d *botDriver) armDue(now time.Time) bool {
	return !d.armed && !d.armAt.IsZero() && !now.Before(d.armAt)
}

// arm samples each bot's jittered interval window and first-fire delay. The
// base interval is drawn uniformly per bot, then widened by the jitter factor
// in both directions.
func (d *botDriver) arm(now time.Time) {
	d.armed = true
	for _, bot := range d.bots {
		base := time.Duration(d.config.BotBaseIntervalMs+d.rng.Intn(d.config.BotBaseSpreadMs)) * time.Millisecond
		bot.minInterval = time.Duration(float64(base) * (1 - d.config.BotJitter))
		bot.maxInterval = time.Duration(float64(base) * (1 + d.config.BotJitter))
		bot.nextFireAt = now.Add(d.sampleInterval(bot))
	}
}

// due collects the bots whose timers have elapsed and re-samples their next
// fire time from their own window.
func (d *botDriver) due(now time.Time) []*botTimer {
	if !d.armed {
		return nil
	}
	var fired []*botTimer
	for _, bot := range d.bots {
		if now.Before(bot.nextFireAt) {
			continue
		}
		bot.nextFireAt = now.Add(d.sampleInterval(bot))
		fired = append(fired, bot)
	}
	return fired
}

// drawIncrement picks the next score increment from the weighted set.
func (d *botDriver) drawIncrement() int {
	return pickIncrement(d.rng.Intn(100))
}

// remove drops the simulated-timer linkage for a departed identity.
func (d *botDriver) remove(identity string) {
	for i, bot := range d.bots {
		if bot.identity == identity {
			d.bots = append(d.bots[:i], d.bots[i+1:]...)
			return
		}
	}
}

// stop clears all bot timers. No bot fires after this.
func (d *botDriver) stop() {
	d.bots = nil
	d.armed = false
	d.armAt = time.Time{}
}

func (d *botDriver) sampleInterval(bot *botTimer) time.Duration {
	spread := bot.maxInterval - bot.minInterval
	if spread <= 0 {
		return bot.minInterval
	}
	return bot.minInterval + time.Duration(d.rng.Int63n(int64(spread)))
}

// pickIncrement maps a uniform draw in [0,100) onto the weighted increment
// buckets.
func pickIncrement(roll int) int {
	for _, bucket := range botIncrementWeights {
		if roll < bucket.weight {
			return bucket.step
		}
		roll -= bucket.weight
	}
	return botIncrementWeights[0].step
}
