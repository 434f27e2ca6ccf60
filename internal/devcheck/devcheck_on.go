//go:build devcheck

package devcheck

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	stacks = map[int64][]Level{}
)

// goroutineID parses the numeric id out of runtime.Stack's header line, the
// usual trick for keying debug-only state per goroutine when nothing is
// threaded through call sites explicitly.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return -1
	}
	id, _ := strconv.ParseInt(fields[0], 10, 64)
	return id
}

// Enter records that level is about to be acquired on the current
// goroutine, panicking if doing so violates the fixed order.
func Enter(level Level) {
	gid := goroutineID()
	mu.Lock()
	defer mu.Unlock()

	stack := stacks[gid]
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		exception := top == LevelPipeline && level == LevelHistory
		if !exception && level <= top {
			panic(fmt.Sprintf("devcheck: lock order violation: acquiring %s while holding %s", level, top))
		}
	}
	stacks[gid] = append(stack, level)
}

// Exit records that level has been released on the current goroutine.
func Exit(level Level) {
	gid := goroutineID()
	mu.Lock()
	defer mu.Unlock()

	stack := stacks[gid]
	if len(stack) == 0 || stack[len(stack)-1] != level {
		panic(fmt.Sprintf("devcheck: unbalanced unlock of %s", level))
	}
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(stacks, gid)
	} else {
		stacks[gid] = stack
	}
}
