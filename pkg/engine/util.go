package engine

import (
	"github.com/GridStation/PelletRush/pkg/game"
	"github.com/GridStation/PelletRush/pkg/rng"
)

func manhattan(ax, ay, bx, by int) int {
	dx := ax - bx
	if dx < 0 {
		dx = -dx
	}
	dy := ay - by
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// offsetDir returns the cell one step in the given direction.
func offsetDir(x, y int, dir game.Direction) (int, int) {
	switch dir {
	case game.DirUp:
		return x, y - 1
	case game.DirDown:
		return x, y + 1
	case game.DirLeft:
		return x - 1, y
	case game.DirRight:
		return x + 1, y
	}
	return x, y
}

func randomDirection(r *rng.Rng) game.Direction {
	switch r.Int(0, 3) {
	case 0:
		return game.DirUp
	case 1:
		return game.DirDown
	case 2:
		return game.DirLeft
	}
	return game.DirRight
}

// moveDirs is the stable evaluation order for direction choices.
var moveDirs = [4]game.Direction{game.DirUp, game.DirDown, game.DirLeft, game.DirRight}
