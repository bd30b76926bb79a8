package derby

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickIncrement_WeightBuckets(t *testing.T) {
	// Cumulative weights 85/14/1 over a uniform draw in [0,100).
	assert.Equal(t, 1, pickIncrement(0))
	assert.Equal(t, 1, pickIncrement(84))
	assert.Equal(t, 2, pickIncrement(85))
	assert.Equal(t, 2, pickIncrement(98))
	assert.Equal(t, 4, pickIncrement(99))
}

func TestBotDriver_ArmSamplesJitteredWindows(t *testing.T) {
	config := NewRaceConfig()
	driver := newBotDriver(config, rand.New(rand.NewSource(42)))
	driver.add("bot-2", 2)
	driver.add("bot-3", 3)

	now := time.Now()
	driver.scheduleArm(now)
	assert.False(t, driver.armDue(now))
	assert.True(t, driver.armDue(now.Add(config.botArmDelay())))

	driver.arm(now)

	lowestBase := time.Duration(config.BotBaseIntervalMs) * time.Millisecond
	highestBase := time.Duration(config.BotBaseIntervalMs+config.BotBaseSpreadMs) * time.Millisecond
	for _, bot := range driver.bots {
		assert.GreaterOrEqual(t, bot.minInterval, time.Duration(float64(lowestBase)*(1-config.BotJitter)))
		assert.LessOrEqual(t, bot.maxInterval, time.Duration(float64(highestBase)*(1+config.BotJitter)))
		assert.Less(t, bot.minInterval, bot.maxInterval)

		first := bot.nextFireAt.Sub(now)
		assert.GreaterOrEqual(t, first, bot.minInterval)
		assert.LessOrEqual(t, first, bot.maxInterval)
	}
}

func TestBotDriver_IntervalsResampledPerFire(t *testing.T) {
	config := NewRaceConfig()
	driver := newBotDriver(config, rand.New(rand.NewSource(7)))
	driver.add("bot-1", 1)
	now := time.Now()
	driver.arm(now)

	bot := driver.bots[0]
	intervals := make(map[time.Duration]bool)
	cursor := now
	for i := 0; i < 16; i++ {
		cursor = bot.nextFireAt
		fired := driver.due(cursor)
		require.Len(t, fired, 1)
		intervals[bot.nextFireAt.Sub(cursor)] = true
	}

	// Re-sampled intervals should not all collapse onto one value.
	assert.Greater(t, len(intervals), 1)
}

func TestBotDriver_NotArmedDoesNotFire(t *testing.T) {
	driver := newBotDriver(NewRaceConfig(), rand.New(rand.NewSource(1)))
	driver.add("bot-1", 1)
	assert.Empty(t, driver.due(time.Now().Add(time.Hour)))
}

func TestBotDriver_StopClearsTimers(t *testing.T) {
	driver := newBotDriver(NewRaceConfig(), rand.New(rand.NewSource(1)))
	driver.add("bot-1", 1)
	now := time.Now()
	driver.arm(now)

	driver.stop()
	assert.Empty(t, driver.due(now.Add(time.Hour)))
}

func TestBotDriver_Remove(t *testing.T) {
	driver := newBotDriver(NewRaceConfig(), rand.New(rand.NewSource(1)))
	driver.add("bot-1", 1)
	driver.add("bot-2", 2)

	driver.remove("bot-1")
	require.Len(t, driver.bots, 1)
	assert.Equal(t, "bot-2", driver.bots[0].identity)
}

func TestBotDriver_IndependentSchedules(t *testing.T) {
	config := NewRaceConfig()
	driver := newBotDriver(config, rand.New(rand.NewSource(99)))
	for seat := 2; seat <= 6; seat++ {
		driver.add(botIdentity("room", seat), seat)
	}
	now := time.Now()
	driver.arm(now)

	firsts := make(map[time.Time]bool)
	for _, bot := range driver.bots {
		firsts[bot.nextFireAt] = true
	}
	// Five bots sharing a synchronized first fire would defeat the jitter.
	assert.Greater(t, len(firsts), 1)
}
