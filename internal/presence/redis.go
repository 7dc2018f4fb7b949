package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient opens a client and verifies it with PING.
func NewRedisClient(c RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", c.Addr)
	}
	return rdb, nil
}

type keys struct {
	prefix string
}

func (k keys) userConns(userID string) string { return k.prefix + ":user:" + userID + ":conns" }
func (k keys) conn(connID string) string      { return k.prefix + ":conn:" + connID }
func (k keys) roomMembers(roomID string) string {
	return k.prefix + ":room:" + roomID + ":members"
}
func (k keys) userRooms(userID string) string { return k.prefix + ":user:" + userID + ":rooms" }
func (k keys) nodeConns(node string) string   { return k.prefix + ":node:" + node + ":conns" }

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "rt"
	}
	return keys{prefix: prefix}
}

// RedisRegistry keeps the user -> connections set and the reverse
// connection -> user pointer so any node can resolve and clean up entries.
// Each connection is also listed under the node that holds it, so a node
// coming back from a crash can drop what it left behind.
type RedisRegistry struct {
	rdb  redis.UniversalClient
	keys keys
	node string
}

func NewRedisRegistry(rdb redis.UniversalClient, prefix, node string) *RedisRegistry {
	if node == "" {
		node = "default"
	}
	return &RedisRegistry{rdb: rdb, keys: newKeys(prefix), node: node}
}

func (r *RedisRegistry) Register(ctx context.Context, userID, connID string) error {
	prev, err := r.rdb.Get(ctx, r.keys.conn(connID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "registry get conn")
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != userID {
			pipe.SRem(ctx, r.keys.userConns(prev), connID)
		}
		pipe.SAdd(ctx, r.keys.userConns(userID), connID)
		pipe.Set(ctx, r.keys.conn(connID), userID, 0)
		pipe.SAdd(ctx, r.keys.nodeConns(r.node), connID)
		return nil
	})
	return errors.Wrap(err, "registry register")
}

func (r *RedisRegistry) Lookup(ctx context.Context, userID string) ([]string, error) {
	conns, err := r.rdb.SMembers(ctx, r.keys.userConns(userID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "registry lookup")
	}
	return conns, nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, connID string) (string, error) {
	userID, err := r.rdb.Get(ctx, r.keys.conn(connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "registry get conn")
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.keys.userConns(userID), connID)
		pipe.Del(ctx, r.keys.conn(connID))
		pipe.SRem(ctx, r.keys.nodeConns(r.node), connID)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "registry unregister")
	}
	return userID, nil
}

// purgeNodeScript drops every connection listed under a node and returns the
// users they belonged to.
var purgeNodeScript = redis.NewScript(`
local prefix = ARGV[1]
local users = {}
for _, conn in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local connKey = prefix .. ':conn:' .. conn
  local user = redis.call('GET', connKey)
  if user then
    redis.call('SREM', prefix .. ':user:' .. user .. ':conns', conn)
    redis.call('DEL', connKey)
    users[#users + 1] = user
  end
end
redis.call('DEL', KEYS[1])
return users
`)

// PurgeNode removes the registrations this node left behind when it stopped
// without unregistering, and returns the affected users. It must run before
// the node accepts connections.
func (r *RedisRegistry) PurgeNode(ctx context.Context) ([]string, error) {
	users, err := purgeNodeScript.Run(ctx, r.rdb, []string{r.keys.nodeConns(r.node)}, r.keys.prefix).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "registry purge node")
	}
	return dedup(users), nil
}

// RedisMembership stores both directions of the room relation so a
// disconnect can sweep a user out of every room without scanning keys. It
// shares its key prefix with the RedisRegistry it is paired with.
type RedisMembership struct {
	rdb  redis.UniversalClient
	keys keys
}

func NewRedisMembership(rdb redis.UniversalClient, prefix string) *RedisMembership {
	return &RedisMembership{rdb: rdb, keys: newKeys(prefix)}
}

func (m *RedisMembership) Join(ctx context.Context, roomID, userID string) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, m.keys.roomMembers(roomID), userID)
		pipe.SAdd(ctx, m.keys.userRooms(userID), roomID)
		return nil
	})
	return errors.Wrap(err, "membership join")
}

func (m *RedisMembership) Leave(ctx context.Context, roomID, userID string) error {
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, m.keys.roomMembers(roomID), userID)
		pipe.SRem(ctx, m.keys.userRooms(userID), roomID)
		return nil
	})
	return errors.Wrap(err, "membership leave")
}

func (m *RedisMembership) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := m.rdb.SMembers(ctx, m.keys.roomMembers(roomID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "membership members")
	}
	return members, nil
}

func (m *RedisMembership) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	rooms, err := m.rdb.SMembers(ctx, m.keys.userRooms(userID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "membership rooms")
	}
	return rooms, nil
}

func (m *RedisMembership) LeaveAll(ctx context.Context, userID string) ([]string, error) {
	rooms, err := m.RoomsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return rooms, nil
	}

	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, roomID := range rooms {
			pipe.SRem(ctx, m.keys.roomMembers(roomID), userID)
		}
		pipe.Del(ctx, m.keys.userRooms(userID))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "membership leave all")
	}
	return rooms, nil
}

// leaveAllIfOfflineScript sweeps a user out of every room only while the
// user's connection set is empty. The check and the sweep run as one script,
// so a connection registered on any node either blocks the sweep or happens
// after it.
var leaveAllIfOfflineScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) > 0 then
  return {0}
end
local out = {1}
for _, room in ipairs(redis.call('SMEMBERS', KEYS[2])) do
  redis.call('SREM', ARGV[1] .. ':room:' .. room .. ':members', ARGV[2])
  out[#out + 1] = room
end
redis.call('DEL', KEYS[2])
return out
`)

func (m *RedisMembership) LeaveAllIfOffline(ctx context.Context, userID string) ([]string, bool, error) {
	res, err := leaveAllIfOfflineScript.Run(ctx, m.rdb,
		[]string{m.keys.userConns(userID), m.keys.userRooms(userID)},
		m.keys.prefix, userID).Slice()
	if err != nil {
		return nil, false, errors.Wrap(err, "membership leave all if offline")
	}
	if len(res) == 0 {
		return nil, false, errors.New("membership leave all if offline: empty reply")
	}
	if flag, _ := res[0].(int64); flag == 0 {
		return nil, false, nil
	}

	rooms := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		if room, ok := v.(string); ok {
			rooms = append(rooms, room)
		}
	}
	return rooms, true, nil
}

func dedup(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
