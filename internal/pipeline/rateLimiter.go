package pipeline

import (
	"sync"

	"golang.org/x/time/rate"
)

type UserRateLimiter struct {
	users     map[int64]*rate.Limiter
	mu        sync.RWMutex
	rateLimit rate.Limit
	burstRate int
}

func NewUserRateLimiter(r rate.Limit, b int) *UserRateLimiter {
	return &UserRateLimiter{users: make(map[int64]*rate.Limiter), rateLimit: r, burstRate: b}
}

func (u *UserRateLimiter) GetLimiter(userId int64) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	limiter, exists := u.users[userId]
	if !exists {
		limiter = rate.NewLimiter(u.rateLimit, u.burstRate)
		u.users[userId] = limiter
	}
	return limiter
}

func (u *UserRateLimiter) Allow(userId int64) bool {
	return u.GetLimiter(userId).Allow()
}

//TODO: when the users grow
// I must offload this key-value to redis
