package domain

// State 购物车生命周期状态
type State string

const (
	StateActive    State = "ACTIVE"    // expiresAt 在未来，允许修改
	StateExpired   State = "EXPIRED"   // 已过期，等待回收
	StateReclaimed State = "RECLAIMED" // 已删除且库存已归还
)
