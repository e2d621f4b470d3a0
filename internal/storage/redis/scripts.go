package redis

const (
	// createSessionScript atomically creates a session hash and its indexes
	createSessionScript = `
local session_key = KEYS[1]     -- tk:session:{sessionID}
local all_set = KEYS[2]         -- tk:sessions:all
local open_set = KEYS[3]        -- tk:sessions:open
local account_set = KEYS[4]     -- tk:sessions:account:{accountID}

local session_id = ARGV[1]

if redis.call('EXISTS', session_key) == 1 then
  return redis.error_reply('CONFLICT session exists')
end

redis.call('HSET', session_key,
  'id', session_id,
  'account_id', ARGV[2],
  'clock_in', ARGV[3],
  'clock_out', ARGV[4],
  'session_date', ARGV[5],
  'device_id', ARGV[6],
  'total_work_minutes', ARGV[7],
  'sleep_minutes', ARGV[8]
)

redis.call('SADD', all_set, session_id)
redis.call('SADD', account_set, session_id)
if ARGV[4] == '' then
  redis.call('SADD', open_set, session_id)
end

return 'OK'
`

	// closeSessionScript sets clock-out values and drops the open index entry
	closeSessionScript = `
local session_key = KEYS[1]     -- tk:session:{sessionID}
local open_set = KEYS[2]        -- tk:sessions:open

if redis.call('EXISTS', session_key) == 0 then
  return redis.error_reply('NOTFOUND session')
end

redis.call('HSET', session_key,
  'clock_out', ARGV[2],
  'total_work_minutes', ARGV[3],
  'sleep_minutes', ARGV[4]
)
redis.call('SREM', open_set, ARGV[1])

return 'OK'
`

	// appendEventScript assigns the next sequence number and appends the event.
	// Members are prefixed with the zero-padded sequence so equal scores keep
	// append order.
	appendEventScript = `
local events_key = KEYS[1]      -- tk:events:{sessionID}
local seq_key = KEYS[2]         -- tk:events:seq

local score = ARGV[1]
local payload = ARGV[2]

local seq = redis.call('INCR', seq_key)
local digits = tostring(seq)
local member = string.rep('0', 20 - #digits) .. digits .. ':' .. payload

redis.call('ZADD', events_key, score, member)

return seq
`

	// upsertAccountScript writes an account and keeps the username index unique
	upsertAccountScript = `
local account_key = KEYS[1]     -- tk:account:{accountID}
local accounts_set = KEYS[2]    -- tk:accounts
local username_key = KEYS[3]    -- tk:account:username:{username}

local account_id = ARGV[1]
local username = ARGV[2]

local owner = redis.call('GET', username_key)
if owner and owner ~= account_id then
  return redis.error_reply('CONFLICT username taken')
end

local previous = redis.call('HGET', account_key, 'username')
if previous and previous ~= username then
  redis.call('DEL', ARGV[9] .. previous)
end

local created_at = redis.call('HGET', account_key, 'created_at')
if not created_at then
  created_at = ARGV[7]
end

redis.call('HSET', account_key,
  'id', account_id,
  'username', username,
  'password_hash', ARGV[3],
  'role', ARGV[4],
  'active', ARGV[5],
  'registered_device', ARGV[6],
  'created_at', created_at,
  'updated_at', ARGV[8]
)
redis.call('SADD', accounts_set, account_id)
redis.call('SET', username_key, account_id)

return 'OK'
`

	// deleteAccountScript removes an account and its username index entry
	deleteAccountScript = `
local account_key = KEYS[1]     -- tk:account:{accountID}
local accounts_set = KEYS[2]    -- tk:accounts

local username = redis.call('HGET', account_key, 'username')
if not username then
  return redis.error_reply('NOTFOUND account')
end

redis.call('DEL', account_key)
redis.call('SREM', accounts_set, ARGV[1])
redis.call('DEL', ARGV[2] .. username)

return 'OK'
`
)
