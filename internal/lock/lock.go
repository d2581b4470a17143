/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// ErrHeld is returned by Acquire when another run owns the key.
var ErrHeld = errors.New("run lock is already held")

// RunLock is an advisory lock that serializes job runs sharing a store.
// The value identifies the holder so that only it can release the key.
type RunLock struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewRunLock(client redis.UniversalClient, key, runID string) *RunLock {
	return &RunLock{
		client: client,
		key:    key,
		value:  runID,
	}
}

func (l *RunLock) Key() string {
	return l.key
}

// Acquire takes the lock for ttl. The ttl bounds how long a crashed run can
// block the next one.
func (l *RunLock) Acquire(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHeld, l.key)
	}
	return nil
}

// Release deletes the key if this run still holds it.
func (l *RunLock) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("release failed, lock %s expired or is held by another run", l.key)
	}
	return nil
}

// Holder returns the run id currently holding the key, or "" when it is free.
func (l *RunLock) Holder(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}
