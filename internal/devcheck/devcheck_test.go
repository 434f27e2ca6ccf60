//go:build devcheck

package devcheck

import "testing"

func TestEnterExitBalancedSequenceDoesNotPanic(t *testing.T) {
	Enter(LevelController)
	Enter(LevelHistory)
	Exit(LevelHistory)
	Exit(LevelController)
}

func TestEnterAllowsHistoryNestedInsidePipeline(t *testing.T) {
	Enter(LevelPipeline)
	Enter(LevelHistory)
	Exit(LevelHistory)
	Exit(LevelPipeline)
}

func TestEnterPanicsOnOutOfOrderAcquisition(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want a panic for acquiring controller while holding history")
		}
		Exit(LevelHistory)
	}()
	Enter(LevelHistory)
	Enter(LevelController)
}

func TestExitPanicsOnUnbalancedRelease(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want a panic for releasing a level never entered")
		}
	}()
	Exit(LevelPipeline)
}
