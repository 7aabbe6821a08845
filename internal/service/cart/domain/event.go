package domain

import "time"

// ReclaimReason 回收来源
type ReclaimReason string

const (
	ReclaimByScheduler ReclaimReason = "scheduler" // 定时回收任务
	ReclaimInline      ReclaimReason = "inline"    // 请求访问到过期购物车时就地回收
)

// CartReclaimed 在购物车被回收且库存归还的事务提交后发布
type CartReclaimed struct {
	EventID     string            `json:"eventId"`
	Owner       string            `json:"owner"`
	Released    []StockAdjustment `json:"released"`
	ExpiredAt   time.Time         `json:"expiredAt"`
	ReclaimedAt time.Time         `json:"reclaimedAt"`
	Reason      ReclaimReason     `json:"reason"`
	State       State             `json:"state"`
}

// NewCartReclaimed 记录购物车从 EXPIRED 进入 RECLAIMED，Released 为需要归还的库存
func NewCartReclaimed(eventID string, c *Cart, now time.Time, reason ReclaimReason) CartReclaimed {
	return CartReclaimed{
		EventID:     eventID,
		Owner:       c.Owner,
		Released:    c.Releases(),
		ExpiredAt:   c.ExpiresAt,
		ReclaimedAt: now,
		Reason:      reason,
		State:       StateReclaimed,
	}
}
