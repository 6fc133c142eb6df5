package redis

import goredis "github.com/redis/go-redis/v9"

// Every script receives the key prefix as ARGV[1]. Keys are derived
// inside the scripts, so the store targets a single node.
const prelude = `
local prefix = ARGV[1]
local function drop_session(id)
  local skey = prefix .. 'session:' .. id
  local raw = redis.call('GET', skey)
  if not raw then return nil end
  local s = cjson.decode(raw)
  local rkey = skey .. ':receivers'
  for _, c in ipairs(redis.call('SMEMBERS', rkey)) do
    redis.call('SREM', prefix .. 'receiver:' .. c, id)
  end
  redis.call('DEL', skey, rkey, prefix .. 'secret:' .. s.deletionSecret)
  redis.call('SREM', prefix .. 'sender:' .. s.senderConnectionId, id)
  redis.call('ZREM', prefix .. 'created', id)
  return raw
end
`

// ARGV: prefix, id, secret, sender, json, createdAtMillis
var createScript = goredis.NewScript(prelude + `
local id, secret, sender = ARGV[2], ARGV[3], ARGV[4]
local skey = prefix .. 'session:' .. id
local sec = prefix .. 'secret:' .. secret
if redis.call('EXISTS', skey) == 1 or redis.call('EXISTS', sec) == 1 then
  return 0
end
redis.call('SET', skey, ARGV[5])
redis.call('SET', sec, id)
redis.call('SADD', prefix .. 'sender:' .. sender, id)
redis.call('ZADD', prefix .. 'created', ARGV[6], id)
return 1
`)

// ARGV: prefix, id, conn
var addReceiverScript = goredis.NewScript(prelude + `
local id, conn = ARGV[2], ARGV[3]
local skey = prefix .. 'session:' .. id
if redis.call('EXISTS', skey) == 0 then
  return 0
end
redis.call('SADD', skey .. ':receivers', conn)
redis.call('SADD', prefix .. 'receiver:' .. conn, id)
return 1
`)

// ARGV: prefix, conn
var deleteBySenderScript = goredis.NewScript(prelude + `
local skey = prefix .. 'sender:' .. ARGV[2]
local out = {}
for _, id in ipairs(redis.call('SMEMBERS', skey)) do
  local raw = drop_session(id)
  if raw then table.insert(out, raw) end
end
redis.call('DEL', skey)
return out
`)

// ARGV: prefix, id, secret
var deleteBySecretScript = goredis.NewScript(prelude + `
local id = redis.call('GET', prefix .. 'secret:' .. ARGV[3])
if id ~= ARGV[2] then
  return false
end
return drop_session(id) or false
`)

// ARGV: prefix, conn
var pullReceiverScript = goredis.NewScript(prelude + `
local conn = ARGV[2]
local rkey = prefix .. 'receiver:' .. conn
local n = 0
for _, id in ipairs(redis.call('SMEMBERS', rkey)) do
  n = n + redis.call('SREM', prefix .. 'session:' .. id .. ':receivers', conn)
end
redis.call('DEL', rkey)
return n
`)

// ARGV: prefix, cutoffMillis (exclusive)
var deleteExpiredScript = goredis.NewScript(prelude + `
local out = {}
for _, id in ipairs(redis.call('ZRANGEBYSCORE', prefix .. 'created', '-inf', '(' .. ARGV[2])) do
  local raw = drop_session(id)
  if raw then table.insert(out, raw) end
end
return out
`)
