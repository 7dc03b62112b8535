package ids

import (
	"strconv"
	"sync"
	"time"
)

// Generator 雪花ID: 41 bits ms since epoch | 10 bits node | 12 bits seq.
type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

var (
	defaultGen *Generator
	once       sync.Once
)

func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Generator{
		epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		nodeID:  nodeID,
		now:     time.Now,
	}
}

func initDefault() {
	once.Do(func() { defaultGen = NewGenerator(1) })
}

// SetNodeID 设置默认生成器的 nodeID（0~1023），在 serve 启动时调用
func SetNodeID(nodeID int64) {
	initDefault()
	g := NewGenerator(nodeID)
	defaultGen.mu.Lock()
	defaultGen.nodeID = g.nodeID
	defaultGen.mu.Unlock()
}

func Generate() int64 {
	initDefault()
	return defaultGen.Next()
}

// GenerateString is used for websocket connection ids.
func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// 时钟回拨，等待
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				for now <= g.lastTSMS {
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}
