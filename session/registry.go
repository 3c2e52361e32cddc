package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"voice-gateway/log"
	"voice-gateway/metrics"
)

// Registry 活跃会话目录
// 锁只在插入、查找、删除和快照时持有。
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
}

// NewRegistry 创建会话目录，m 可以为nil
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  m,
	}
}

// Register 登记新会话
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("会话 %s 已存在", s.ID)
	}
	r.sessions[s.ID] = s
	r.metrics.SessionOpened()
	return nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove 注销会话，返回会话是否存在
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.metrics.SessionClosed()
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots 所有会话的快照，按创建时间排序
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(list))
	for _, s := range list {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// ExpireIdle 返回空闲超过 timeout 的会话，不修改目录
func (r *Registry) ExpireIdle(now time.Time, timeout time.Duration) []*Session {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	var idle []*Session
	for _, s := range list {
		if s.IdleFor(now) > timeout {
			idle = append(idle, s)
		}
	}
	return idle
}

// StartReaper 定期关闭空闲会话，直到ctx取消
// timeout 不大于0时不启动。连接关闭后由连接自己从目录中注销。
func (r *Registry) StartReaper(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, s := range r.ExpireIdle(now, timeout) {
					log.Infof("会话 %s (设备 %s) 空闲超时，关闭连接", s.ID, s.DeviceID)
					r.metrics.SessionExpired()
					s.Close()
				}
			}
		}
	}()
}

// CloseAll 关闭全部会话，用于停机
func (r *Registry) CloseAll() {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	for _, s := range list {
		s.Close()
	}
}
