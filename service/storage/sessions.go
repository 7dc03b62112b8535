package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 会话注册：
//   live:s:<node>:<session>:u:<user>  value=flavor, TTL
//   live:u:<user>                     ZSET member=会话key, score=到期时间(unix 秒)
// 用户索引不带 node，所以任何节点都能数出某用户的全部在线会话。

// KEYS[1] = user index, KEYS[2] = session key
// ARGV[1] = ttl seconds, ARGV[2] = expAt, ARGV[3] = flavor
const luaRegister = `
local userZ = KEYS[1]
local kConn = KEYS[2]
local ttl   = tonumber(ARGV[1])

redis.call("SET", kConn, ARGV[3], "EX", ARGV[1])
redis.call("ZADD", userZ, ARGV[2], kConn)
redis.call("EXPIRE", userZ, ttl * 2)
return 1
`

// KEYS[1] = user index, KEYS[2] = session key
// ARGV[1] = ttl seconds, ARGV[2] = now, ARGV[3] = expAt
// 返回 0 会话键已不存在（过期或被清理），1 已续期
const luaHeartbeat = `
local userZ = KEYS[1]
local kConn = KEYS[2]
local ttl   = tonumber(ARGV[1])

if redis.call("EXISTS", kConn) == 0 then
  redis.call("ZREM", userZ, kConn)
  return 0
end
redis.call("EXPIRE", kConn, ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", ARGV[2])
redis.call("ZADD", userZ, ARGV[3], kConn)
redis.call("EXPIRE", userZ, ttl * 2)
return 1
`

// KEYS[1] = user index, ARGV[1] = session key
// 返回 1 删掉了会话键，0 不存在（幂等）
const luaUnregister = `
local existed = redis.call("DEL", ARGV[1])
redis.call("ZREM", KEYS[1], ARGV[1])
return existed
`

// KEYS[1] = user index, ARGV[1] = now
// 清理过期成员后返回仍有效的会话数
const luaOnline = `
local userZ = KEYS[1]

local victims = redis.call("ZRANGEBYSCORE", userZ, "-inf", ARGV[1])
for _, v in ipairs(victims) do
  redis.call("ZREM", userZ, v)
  redis.call("DEL", v)
end
return redis.call("ZCOUNT", userZ, "(" .. ARGV[1], "+inf")
`

var (
	scriptRegister   = redis.NewScript(luaRegister)
	scriptHeartbeat  = redis.NewScript(luaHeartbeat)
	scriptUnregister = redis.NewScript(luaUnregister)
	scriptOnline     = redis.NewScript(luaOnline)
)

// SessionRegistry records live websocket sessions in Redis so that any node
// can tell how many sessions a user holds.
type SessionRegistry struct {
	rdb  *redis.Client
	node string
	ttl  time.Duration
	now  func() time.Time
}

func NewSessionRegistry(rdb *redis.Client, nodeID int64, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{rdb: rdb, node: strconv.FormatInt(nodeID, 10), ttl: ttl, now: time.Now}
}

func userIndexKey(userID int64) string { return fmt.Sprintf("live:u:%d", userID) }

func (r *SessionRegistry) sessionKey(userID int64, sessionID string) string {
	return fmt.Sprintf("live:s:%s:%s:u:%d", r.node, sessionID, userID)
}

func (r *SessionRegistry) ttlSeconds() int64 {
	s := int64(r.ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func (r *SessionRegistry) Register(ctx context.Context, userID int64, sessionID, flavor string) error {
	ttl := r.ttlSeconds()
	expAt := r.now().Unix() + ttl
	return scriptRegister.Run(ctx, r.rdb,
		[]string{userIndexKey(userID), r.sessionKey(userID, sessionID)},
		ttl, expAt, flavor).Err()
}

// Heartbeat extends the session; false means it had already expired and
// must be registered again.
func (r *SessionRegistry) Heartbeat(ctx context.Context, userID int64, sessionID string) (bool, error) {
	ttl := r.ttlSeconds()
	now := r.now().Unix()
	n, err := scriptHeartbeat.Run(ctx, r.rdb,
		[]string{userIndexKey(userID), r.sessionKey(userID, sessionID)},
		ttl, now, now+ttl).Int()
	return n == 1, err
}

func (r *SessionRegistry) Unregister(ctx context.Context, userID int64, sessionID string) error {
	return scriptUnregister.Run(ctx, r.rdb,
		[]string{userIndexKey(userID)}, r.sessionKey(userID, sessionID)).Err()
}

// Online counts the unexpired sessions of each user across all nodes.
func (r *SessionRegistry) Online(ctx context.Context, ids []int64) (map[int64]int, error) {
	now := r.now().Unix()
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		n, err := scriptOnline.Run(ctx, r.rdb, []string{userIndexKey(id)}, now).Int()
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}
