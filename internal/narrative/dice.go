package narrative

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultSides 未指定面数时使用d20
	DefaultSides = 20
	// DefaultMaxDice 单次掷骰数量上限
	DefaultMaxDice = 100
	// DefaultMaxSides 骰子面数上限
	DefaultMaxSides = 1000
)

// DiceResult 一次掷骰结果
type DiceResult struct {
	Count  int   `json:"count"`
	Sides  int   `json:"sides"`
	Values []int `json:"values"`
	Total  int   `json:"total"`
}

// String 渲染为聊天中的系统消息
func (r DiceResult) String() string {
	parts := make([]string, len(r.Values))
	for i, v := range r.Values {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("Dice roll (%dd%d): [%s] total %d", r.Count, r.Sides, strings.Join(parts, ", "), r.Total)
}

// Roller 掷骰器，同一种子产生相同序列
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller 创建掷骰器
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

var defaultRoller = NewRoller(time.Now().UnixNano())

// Roll 掷n个s面骰，n和s至少为1
func (r *Roller) Roll(n, sides int) DiceResult {
	if n < 1 {
		n = 1
	}
	if sides < 1 {
		sides = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	values := make([]int, n)
	total := 0
	for i := range values {
		values[i] = r.rng.Intn(sides) + 1
		total += values[i]
	}
	return DiceResult{Count: n, Sides: sides, Values: values, Total: total}
}

// Roll 使用全局掷骰器
func Roll(n, sides int) DiceResult {
	return defaultRoller.Roll(n, sides)
}
