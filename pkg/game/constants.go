package game

// Simulation cadence.
const (
	TickRate = 20
	TickMS   = 1000 / TickRate
)

// Board and rule constants.
const (
	SectorSize     = 17
	DotsForAwaken  = 50
	MaxAwakenStock = 3

	PowerDurationMS      uint64 = 8_000
	AwakenDurationMS     uint64 = 6_000
	RescueTimeoutMS      uint64 = 30_000
	PowerPelletRespawnMS uint64 = 90_000
)

// Movement speeds in cells per second.
const (
	PlayerBaseSpeed               = 6.0
	PlayerCapturedSpeedMultiplier = 1.2
	GhostBaseSpeed                = 4.6
)

// MapSideByPlayerCount picks the sector grid side length for a party size.
func MapSideByPlayerCount(playerCount int) int {
	switch {
	case playerCount <= 5:
		return 2
	case playerCount <= 15:
		return 3
	case playerCount <= 30:
		return 4
	case playerCount <= 60:
		return 5
	}
	return 6
}

// InitialGhostCount is the ghost population cap for a party size.
func InitialGhostCount(playerCount int) int {
	switch {
	case playerCount <= 1:
		return 4
	case playerCount <= 5:
		return 8
	case playerCount <= 15:
		return 20
	case playerCount <= 30:
		return 40
	case playerCount <= 60:
		return 65
	}
	return 100
}

// TimeLimitMS is the default match length for a party size.
func TimeLimitMS(playerCount int) uint64 {
	switch {
	case playerCount <= 5:
		return 15 * 60 * 1000
	case playerCount <= 15:
		return 18 * 60 * 1000
	case playerCount <= 30:
		return 22 * 60 * 1000
	case playerCount <= 60:
		return 26 * 60 * 1000
	}
	return 30 * 60 * 1000
}

// DifficultyMultiplier returns (ghost speed multiplier, regen multiplier).
func DifficultyMultiplier(difficulty Difficulty) (float64, float64) {
	switch difficulty {
	case DifficultyCasual:
		return 0.8, 0.6
	case DifficultyHard:
		return 1.2, 1.4
	case DifficultyNightmare:
		return 1.5, 2.0
	}
	return 1.0, 1.0
}

// CapturePressure returns (grace ms, regen multiplier) for a global capture
// ratio. The higher the ratio, the shorter the grace and the harder the
// ghosts push dots back into captured sectors.
func CapturePressure(captureRatio float64) (uint64, float64) {
	switch {
	case captureRatio <= 0.3:
		return 120_000, 1.0
	case captureRatio <= 0.5:
		return 90_000, 1.3
	case captureRatio <= 0.7:
		return 60_000, 1.8
	case captureRatio <= 0.85:
		return 40_000, 2.5
	case captureRatio <= 0.95:
		return 25_000, 3.5
	}
	return 15_000, 5.0
}

// FruitScore is the score awarded for consuming a fruit.
func FruitScore(fruitType FruitType) int {
	switch fruitType {
	case FruitCherry:
		return 100
	case FruitStrawberry:
		return 150
	case FruitOrange:
		return 200
	case FruitApple:
		return 300
	case FruitKey:
		return 400
	case FruitGrape:
		return 500
	}
	return 0
}
