package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskpilot/internal/model"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"

	"github.com/go-redis/redis/v8"
)

const (
	taskKeyPrefix    = "taskpilot:task:"
	allTasksKey      = "taskpilot:tasks"
	pendingKeyPrefix = "taskpilot:queue:pending:"
)

// addScript inserts the task hash and indexes it, failing if the id exists.
const addScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5, #ARGV))
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
if ARGV[3] == 'PENDING' then
	redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
end
return 1
`

// claimScript scans the pending index best-first and claims the first
// candidate whose dependencies are complete and whose backoff gate has
// passed. Blocked candidates are skipped, not returned.
const claimScript = `
local ids = redis.call('ZREVRANGE', KEYS[1], 0, -1)
local now = tonumber(ARGV[1])
for i, id in ipairs(ids) do
	local key = ARGV[3] .. id
	local ok = true
	local notBefore = redis.call('HGET', key, 'not_before')
	if notBefore and notBefore ~= '' and tonumber(notBefore) > now then
		ok = false
	end
	if ok then
		local deps = redis.call('HGET', key, 'deps')
		if deps and deps ~= '' then
			for dep in string.gmatch(deps, '%S+') do
				local depStatus = redis.call('HGET', ARGV[3] .. dep, 'status')
				if depStatus ~= 'COMPLETED' then
					ok = false
					break
				end
			end
		end
	end
	if ok then
		redis.call('ZREM', KEYS[1], id)
		redis.call('HSET', key, 'status', 'ASSIGNED', 'assigned_worker', ARGV[2], 'assigned_at', ARGV[1])
		return id
	end
end
return false
`

// TaskStore is the Redis-backed task store. The claim path runs as a
// single Lua script, so assignment is atomic across any number of
// concurrent claimers.
type TaskStore struct {
	client *redis.Client
	claim  *redis.Script
	add    *redis.Script
}

// NewTaskStore creates a task store on an existing client.
func NewTaskStore(client *redis.Client) *TaskStore {
	return &TaskStore{
		client: client,
		claim:  redis.NewScript(claimScript),
		add:    redis.NewScript(addScript),
	}
}

// pendingScore orders the pending index: priority desc first, then
// created asc. The creation offset is always below one priority unit.
func pendingScore(priority int, createdAt time.Time) float64 {
	return float64(priority) - float64(createdAt.UnixMilli())*1e-13
}

// Add inserts a task in PENDING.
func (s *TaskStore) Add(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = constants.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	fields, err := taskToFields(task)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, 4+len(fields)*2)
	args = append(args,
		strconv.FormatFloat(pendingScore(task.Priority, task.CreatedAt), 'f', -1, 64),
		task.ID,
		task.Status.String(),
		strconv.FormatInt(task.CreatedAt.UnixMilli(), 10))
	for k, v := range fields {
		args = append(args, k, v)
	}

	keys := []string{
		taskKeyPrefix + task.ID,
		allTasksKey,
		pendingKeyPrefix + task.WorkerType,
	}
	n, err := s.add.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrDuplicateID
	}
	return nil
}

// ClaimNext atomically claims the best ready task for workerType.
func (s *TaskStore) ClaimNext(ctx context.Context, workerType, workerID string) (*model.Task, error) {
	now := time.Now()
	res, err := s.claim.Run(ctx, s.client,
		[]string{pendingKeyPrefix + workerType},
		strconv.FormatInt(now.UnixMilli(), 10), workerID, taskKeyPrefix).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected claim result %v", res)
	}
	return s.Get(ctx, id)
}

// Update applies the given fields to an existing task, keeping the
// pending index in sync with status changes.
func (s *TaskStore) Update(ctx context.Context, taskID string, fields map[string]interface{}) error {
	key := taskKeyPrefix + taskID

	meta, err := s.client.HMGet(ctx, key, "id", "worker_type", "priority", "created_at").Result()
	if err != nil {
		return err
	}
	if meta[0] == nil {
		return interfaces.ErrTaskNotFound
	}
	workerType, _ := meta[1].(string)
	priority, _ := strconv.Atoi(asString(meta[2]))
	createdMs, _ := strconv.ParseInt(asString(meta[3]), 10, 64)

	hset := make(map[string]interface{}, len(fields))
	var newStatus *constants.TaskStatus
	for name, value := range fields {
		field, v, err := toHashField(name, value)
		if err != nil {
			return err
		}
		hset[field] = v
		if field == "status" {
			st := constants.TaskStatus(v.(string))
			newStatus = &st
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, hset)
	if newStatus != nil {
		pendingKey := pendingKeyPrefix + workerType
		if *newStatus == constants.TaskStatusPending {
			// Retried tasks rejoin the index at their original position.
			pipe.ZAdd(ctx, pendingKey, &redis.Z{
				Score:  pendingScore(priority, time.UnixMilli(createdMs)),
				Member: taskID,
			})
		} else {
			pipe.ZRem(ctx, pendingKey, taskID)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a task by id, (nil, nil) if absent.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*model.Task, error) {
	data, err := s.client.HGetAll(ctx, taskKeyPrefix+taskID).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return fieldsToTask(data)
}

// List returns tasks matching the optional filters, newest first.
// Hashes are batch-fetched with a pipeline.
func (s *TaskStore) List(ctx context.Context, status constants.TaskStatus, workerType string) ([]*model.Task, error) {
	ids, err := s.client.ZRevRange(ctx, allTasksKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, taskKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	var tasks []*model.Task
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		task, err := fieldsToTask(data)
		if err != nil {
			return nil, err
		}
		if status != "" && task.Status != status {
			continue
		}
		if workerType != "" && task.WorkerType != workerType {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Stats returns aggregate queue counters.
func (s *TaskStore) Stats(ctx context.Context) (*model.QueueStats, error) {
	tasks, err := s.List(ctx, "", "")
	if err != nil {
		return nil, err
	}

	stats := &model.QueueStats{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}
	var oldestPending time.Time
	for _, t := range tasks {
		stats.Total++
		stats.ByStatus[t.Status.String()]++
		stats.ByType[t.WorkerType]++
		if t.Status == constants.TaskStatusPending {
			if oldestPending.IsZero() || t.CreatedAt.Before(oldestPending) {
				oldestPending = t.CreatedAt
			}
		}
	}
	if !oldestPending.IsZero() {
		stats.OldestWait = time.Since(oldestPending).Seconds()
	}
	return stats, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (s *TaskStore) Close() error {
	return nil
}

func taskToFields(task *model.Task) (map[string]interface{}, error) {
	params, err := json.Marshal(task.Parameters)
	if err != nil {
		return nil, err
	}
	result := ""
	if task.Result != nil {
		b, err := json.Marshal(task.Result)
		if err != nil {
			return nil, err
		}
		result = string(b)
	}

	fields := map[string]interface{}{
		"id":              task.ID,
		"description":     task.Description,
		"type":            task.Type,
		"worker_type":     task.WorkerType,
		"priority":        strconv.Itoa(task.Priority),
		"status":          task.Status.String(),
		"deps":            strings.Join(task.Dependencies, " "),
		"parameters":      string(params),
		"result":          result,
		"error":           task.Error,
		"assigned_worker": task.AssignedWorker,
		"retry_count":     strconv.Itoa(task.RetryCount),
		"max_retries":     strconv.Itoa(task.MaxRetries),
		"timeout_seconds": strconv.Itoa(task.TimeoutSeconds),
		"cost_estimate":   strconv.FormatFloat(task.CostEstimate, 'f', -1, 64),
		"created_at":      strconv.FormatInt(task.CreatedAt.UnixMilli(), 10),
		"assigned_at":     msField(task.AssignedAt),
		"started_at":      msField(task.StartedAt),
		"completed_at":    msField(task.CompletedAt),
		"not_before":      msField(task.NotBefore),
	}
	return fields, nil
}

func fieldsToTask(data map[string]string) (*model.Task, error) {
	t := &model.Task{
		ID:             data["id"],
		Description:    data["description"],
		Type:           data["type"],
		WorkerType:     data["worker_type"],
		Status:         constants.TaskStatus(data["status"]),
		Error:          data["error"],
		AssignedWorker: data["assigned_worker"],
	}
	t.Priority, _ = strconv.Atoi(data["priority"])
	t.RetryCount, _ = strconv.Atoi(data["retry_count"])
	t.MaxRetries, _ = strconv.Atoi(data["max_retries"])
	t.TimeoutSeconds, _ = strconv.Atoi(data["timeout_seconds"])
	t.CostEstimate, _ = strconv.ParseFloat(data["cost_estimate"], 64)

	if deps := data["deps"]; deps != "" {
		t.Dependencies = strings.Fields(deps)
	}
	if params := data["parameters"]; params != "" {
		if err := json.Unmarshal([]byte(params), &t.Parameters); err != nil {
			return nil, err
		}
	}
	if result := data["result"]; result != "" {
		if err := json.Unmarshal([]byte(result), &t.Result); err != nil {
			return nil, err
		}
	}

	if ms, err := strconv.ParseInt(data["created_at"], 10, 64); err == nil {
		t.CreatedAt = time.UnixMilli(ms)
	}
	t.AssignedAt = msParse(data["assigned_at"])
	t.StartedAt = msParse(data["started_at"])
	t.CompletedAt = msParse(data["completed_at"])
	t.NotBefore = msParse(data["not_before"])
	return t, nil
}

func toHashField(name string, value interface{}) (string, interface{}, error) {
	switch name {
	case "status":
		switch v := value.(type) {
		case constants.TaskStatus:
			return name, v.String(), nil
		case string:
			return name, v, nil
		}
		return "", nil, fmt.Errorf("invalid status value %v", value)
	case "result":
		if value == nil {
			return name, "", nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return "", nil, err
		}
		return name, string(b), nil
	case "assigned_at", "started_at", "completed_at", "not_before":
		switch v := value.(type) {
		case nil:
			return name, "", nil
		case time.Time:
			return name, strconv.FormatInt(v.UnixMilli(), 10), nil
		case *time.Time:
			if v == nil {
				return name, "", nil
			}
			return name, strconv.FormatInt(v.UnixMilli(), 10), nil
		}
		return "", nil, fmt.Errorf("invalid time value for %s", name)
	case "error", "assigned_worker":
		s, ok := value.(string)
		if !ok {
			return "", nil, fmt.Errorf("invalid string value for %s", name)
		}
		return name, s, nil
	case "retry_count":
		n, ok := value.(int)
		if !ok {
			return "", nil, fmt.Errorf("invalid int value for %s", name)
		}
		return name, strconv.Itoa(n), nil
	default:
		return "", nil, fmt.Errorf("unknown task field %q", name)
	}
}

func msField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func msParse(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
